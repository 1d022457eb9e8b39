package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/veilchat/veil-go/pkg/identity"
	"github.com/veilchat/veil-go/pkg/packet"
)

const (
	metadataBucket = "metadata"
	chatKeysBucket = "chat_keys"
	pinsBucket     = "pins"
	chatsBucket    = "chats"
	messagesBucket = "messages"

	versionKey = "version"

	// SchemaVersion is the on-disk format version.
	SchemaVersion = 1

	// DefaultPinCacheSize is the number of pinned keys kept in memory.
	DefaultPinCacheSize = 256
)

var (
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create store CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create store CBOR decoder mode: %v", err))
	}
}

// BoltStore is a Store backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB

	// keyMu serializes chat key creation so a peer never gets two keys.
	keyMu sync.Mutex
	pins  *lru.Cache[string, *identity.PublicKey]

	now func() time.Time
}

// BoltOption configures a BoltStore.
type BoltOption func(*boltOptions)

type boltOptions struct {
	cacheSize int
	timeout   time.Duration
}

// WithPinCacheSize sets the pinned key cache size.
func WithPinCacheSize(n int) BoltOption {
	return func(o *boltOptions) { o.cacheSize = n }
}

// WithOpenTimeout bounds how long Open waits for the file lock.
func WithOpenTimeout(d time.Duration) BoltOption {
	return func(o *boltOptions) { o.timeout = d }
}

// OpenBolt creates (or loads) a store in the file at path.
func OpenBolt(path string, opts ...BoltOption) (*BoltStore, error) {
	o := boltOptions{cacheSize: DefaultPinCacheSize, timeout: time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	cache, err := lru.New[string, *identity.PublicKey](o.cacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pin cache: %w", err)
	}

	s := &BoltStore{db: db, pins: cache, now: time.Now}

	if err := db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		for _, name := range []string{chatKeysBucket, pinsBucket, chatsBucket, messagesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}

		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != SchemaVersion {
				return fmt.Errorf("incompatible store version: %v", b)
			}
			return nil
		}
		return meta.Put([]byte(versionKey), []byte{SchemaVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PrivateKey returns our chat key for peer, creating it on first use.
func (s *BoltStore) PrivateKey(peer string) (*identity.PrivateKey, error) {
	if err := validPeer(peer); err != nil {
		return nil, err
	}

	s.keyMu.Lock()
	defer s.keyMu.Unlock()

	var key *identity.PrivateKey
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(chatKeysBucket))
		if raw := bkt.Get([]byte(peer)); raw != nil {
			var err error
			key, err = identity.ParsePrivateKey(raw)
			return err
		}

		var err error
		key, err = identity.GenerateKey()
		if err != nil {
			return err
		}
		return bkt.Put([]byte(peer), key.Bytes())
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// PinnedKey returns the pinned key for peer.
func (s *BoltStore) PinnedKey(peer string) (*identity.PublicKey, bool, error) {
	if k, ok := s.pins.Get(peer); ok {
		return k, true, nil
	}

	var key *identity.PublicKey
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(pinsBucket)).Get([]byte(peer))
		if raw == nil {
			return nil
		}
		var err error
		key, err = identity.ParsePublicKey(raw)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if key == nil {
		return nil, false, nil
	}
	s.pins.Add(peer, key)
	return key, true, nil
}

// PinKey pins key for peer in its own transaction.
func (s *BoltStore) PinKey(peer string, key *identity.PublicKey) error {
	if err := validPeer(peer); err != nil {
		return err
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pinsBucket)).Put([]byte(peer), key.Bytes())
	}); err != nil {
		return err
	}
	s.pins.Add(peer, key)
	return nil
}

// Unpin removes the pinned key for peer.
func (s *BoltStore) Unpin(peer string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(pinsBucket)).Delete([]byte(peer))
	})
	s.pins.Remove(peer)
	return err
}

// AddChat registers a chat with peer.
func (s *BoltStore) AddChat(peer, name string) error {
	if err := validPeer(peer); err != nil {
		return err
	}
	raw, err := recordEncMode.Marshal(Chat{Peer: peer, Name: name, AddedAt: s.now()})
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		chats := tx.Bucket([]byte(chatsBucket))
		if chats.Get([]byte(peer)) != nil {
			return ErrChatExists
		}
		if err := chats.Put([]byte(peer), raw); err != nil {
			return err
		}
		_, err := tx.Bucket([]byte(messagesBucket)).CreateBucketIfNotExists([]byte(peer))
		return err
	})
}

// RemoveChat deletes a chat and its messages. Keys and pins are kept.
func (s *BoltStore) RemoveChat(peer string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		chats := tx.Bucket([]byte(chatsBucket))
		if chats.Get([]byte(peer)) == nil {
			return ErrUnknownChat
		}
		if err := chats.Delete([]byte(peer)); err != nil {
			return err
		}
		err := tx.Bucket([]byte(messagesBucket)).DeleteBucket([]byte(peer))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// HasChat reports whether a chat with peer exists.
func (s *BoltStore) HasChat(peer string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(chatsBucket)).Get([]byte(peer)) != nil
		return nil
	})
	return ok, err
}

// Chats returns all chats sorted by peer.
func (s *BoltStore) Chats() ([]Chat, error) {
	var out []Chat
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(chatsBucket)).ForEach(func(_, v []byte) error {
			var c Chat
			if err := recordDecMode.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	return out, err
}

// AppendMessage stores a message in status Sending.
func (s *BoltStore) AppendMessage(peer string, selfSent bool, body string, id packet.MessageID) (packet.MessageID, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket)).Bucket([]byte(peer))
		if bkt == nil {
			return ErrUnknownChat
		}

		if selfSent {
			for bkt.Get(recordKeyBytes(true, id)) != nil {
				id = id.Next()
			}
		} else if bkt.Get(recordKeyBytes(false, id)) != nil {
			return ErrMessageExists
		}

		raw, err := recordEncMode.Marshal(Record{
			Peer:     peer,
			ID:       id,
			SelfSent: selfSent,
			Body:     body,
			Status:   StatusSending,
			Stored:   s.now(),
		})
		if err != nil {
			return err
		}
		return bkt.Put(recordKeyBytes(selfSent, id), raw)
	})
	if err != nil {
		return packet.MessageID{}, err
	}
	return id, nil
}

// SetStatus moves a message to status if the transition is allowed.
func (s *BoltStore) SetStatus(peer string, selfSent bool, id packet.MessageID, status MessageStatus) (bool, error) {
	var changed bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket)).Bucket([]byte(peer))
		if bkt == nil {
			return ErrUnknownChat
		}
		key := recordKeyBytes(selfSent, id)
		rec, err := decodeRecord(bkt.Get(key))
		if err != nil {
			return err
		}
		if !rec.Status.CanTransition(status) {
			return nil
		}
		rec.Status = status
		raw, err := recordEncMode.Marshal(rec)
		if err != nil {
			return err
		}
		changed = true
		return bkt.Put(key, raw)
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// Message returns a single message.
func (s *BoltStore) Message(peer string, selfSent bool, id packet.MessageID) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket)).Bucket([]byte(peer))
		if bkt == nil {
			return ErrUnknownChat
		}
		var err error
		rec, err = decodeRecord(bkt.Get(recordKeyBytes(selfSent, id)))
		return err
	})
	return rec, err
}

// Messages returns all messages of a chat ordered by id.
func (s *BoltStore) Messages(peer string) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(messagesBucket)).Bucket([]byte(peer))
		if bkt == nil {
			return ErrUnknownChat
		}
		return bkt.ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func decodeRecord(raw []byte) (Record, error) {
	if raw == nil {
		return Record{}, ErrMessageNotFound
	}
	var rec Record
	if err := recordDecMode.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// recordKeyBytes orders records by direction then big-endian id.
func recordKeyBytes(selfSent bool, id packet.MessageID) []byte {
	key := make([]byte, 1+packet.MessageIDSize)
	if selfSent {
		key[0] = 1
	}
	binary.BigEndian.PutUint64(key[1:9], id.Hi)
	binary.BigEndian.PutUint64(key[9:], id.Lo)
	return key
}
