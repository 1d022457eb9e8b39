package store

import (
	"sort"
	"sync"
	"time"

	"github.com/veilchat/veil-go/pkg/identity"
	"github.com/veilchat/veil-go/pkg/packet"
)

type recordKey struct {
	selfSent bool
	id       packet.MessageID
}

// MemoryStore is an in-memory implementation of Store.
// This is primarily useful for testing.
type MemoryStore struct {
	mu sync.RWMutex

	chatKeys map[string]*identity.PrivateKey
	pins     map[string]*identity.PublicKey
	chats    map[string]Chat
	messages map[string]map[recordKey]Record

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chatKeys: make(map[string]*identity.PrivateKey),
		pins:     make(map[string]*identity.PublicKey),
		chats:    make(map[string]Chat),
		messages: make(map[string]map[recordKey]Record),
		now:      time.Now,
	}
}

// PrivateKey returns our chat key for peer, creating it on first use.
func (s *MemoryStore) PrivateKey(peer string) (*identity.PrivateKey, error) {
	if err := validPeer(peer); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.chatKeys[peer]; ok {
		return k, nil
	}
	k, err := identity.GenerateKey()
	if err != nil {
		return nil, err
	}
	s.chatKeys[peer] = k
	return k, nil
}

// PinnedKey returns the pinned key for peer.
func (s *MemoryStore) PinnedKey(peer string) (*identity.PublicKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.pins[peer]
	return k, ok, nil
}

// PinKey pins key for peer.
func (s *MemoryStore) PinKey(peer string, key *identity.PublicKey) error {
	if err := validPeer(peer); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pins[peer] = key
	return nil
}

// Unpin removes the pinned key for peer.
func (s *MemoryStore) Unpin(peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pins, peer)
	return nil
}

// AddChat registers a chat with peer.
func (s *MemoryStore) AddChat(peer, name string) error {
	if err := validPeer(peer); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[peer]; ok {
		return ErrChatExists
	}
	s.chats[peer] = Chat{Peer: peer, Name: name, AddedAt: s.now()}
	s.messages[peer] = make(map[recordKey]Record)
	return nil
}

// RemoveChat deletes a chat and its messages. Keys are kept.
func (s *MemoryStore) RemoveChat(peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[peer]; !ok {
		return ErrUnknownChat
	}
	delete(s.chats, peer)
	delete(s.messages, peer)
	return nil
}

// HasChat reports whether a chat with peer exists.
func (s *MemoryStore) HasChat(peer string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.chats[peer]
	return ok, nil
}

// Chats returns all chats sorted by peer.
func (s *MemoryStore) Chats() ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out, nil
}

// AppendMessage stores a message in status Sending.
func (s *MemoryStore) AppendMessage(peer string, selfSent bool, body string, id packet.MessageID) (packet.MessageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.messages[peer]
	if !ok {
		return packet.MessageID{}, ErrUnknownChat
	}

	if selfSent {
		for {
			if _, taken := msgs[recordKey{true, id}]; !taken {
				break
			}
			id = id.Next()
		}
	} else if _, taken := msgs[recordKey{false, id}]; taken {
		return packet.MessageID{}, ErrMessageExists
	}

	msgs[recordKey{selfSent, id}] = Record{
		Peer:     peer,
		ID:       id,
		SelfSent: selfSent,
		Body:     body,
		Status:   StatusSending,
		Stored:   s.now(),
	}
	return id, nil
}

// SetStatus moves a message to status if the transition is allowed.
func (s *MemoryStore) SetStatus(peer string, selfSent bool, id packet.MessageID, status MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.messages[peer]
	if !ok {
		return false, ErrUnknownChat
	}
	rec, ok := msgs[recordKey{selfSent, id}]
	if !ok {
		return false, ErrMessageNotFound
	}
	if !rec.Status.CanTransition(status) {
		return false, nil
	}
	rec.Status = status
	msgs[recordKey{selfSent, id}] = rec
	return true, nil
}

// Message returns a single message.
func (s *MemoryStore) Message(peer string, selfSent bool, id packet.MessageID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[peer]
	if !ok {
		return Record{}, ErrUnknownChat
	}
	rec, ok := msgs[recordKey{selfSent, id}]
	if !ok {
		return Record{}, ErrMessageNotFound
	}
	return rec, nil
}

// Messages returns all messages of a chat ordered by id.
func (s *MemoryStore) Messages(peer string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[peer]
	if !ok {
		return nil, ErrUnknownChat
	}
	out := make([]Record, 0, len(msgs))
	for _, r := range msgs {
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ID != recs[j].ID {
			return recs[i].ID.Less(recs[j].ID)
		}
		// Remote copies sort before our own for equal ids.
		return !recs[i].SelfSent && recs[j].SelfSent
	})
}
