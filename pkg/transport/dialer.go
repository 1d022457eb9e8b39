package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
	"github.com/veilchat/veil-go/pkg/packet"
)

// DefaultServicePort is the virtual port of a peer's hidden service.
const DefaultServicePort = 80

const writeBufferSize = 16 * 1024

// DialerConfig configures outbound links.
type DialerConfig struct {
	// Proxy selects the SOCKS proxy streams are tunneled through.
	Proxy ProxyConfig

	// ServicePort is the hidden service port of peers (default 80).
	ServicePort int

	// Path is the WebSocket endpoint path (default "/veil").
	Path string

	// Resolve maps a peer address to a WebSocket URL. The default is
	// ws://<address>.onion:<port><path>.
	Resolve func(address string) string

	HeartbeatInterval time.Duration
	FlushDelay        time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration

	// Clock drives the heartbeat and flush loops (default: wall clock).
	Clock clock.Clock

	// Logger receives operational logs.
	Logger *slog.Logger

	// Capture receives protocol capture events (optional).
	Capture log.Logger
}

func (c *DialerConfig) applyDefaults() {
	if c.ServicePort == 0 {
		c.ServicePort = DefaultServicePort
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = DefaultFlushDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	c.Logger = orDiscard(c.Logger)
}

// URL returns the WebSocket URL for address.
func (c DialerConfig) URL(address string) string {
	if c.Resolve != nil {
		return c.Resolve(address)
	}
	host := net.JoinHostPort(address+".onion", strconv.Itoa(c.ServicePort))
	return "ws://" + host + c.Path
}

// Dialer is the outbound side of a link. It sends client packets and
// receives server packets.
//
// Writes are serialized by a mutex. Write flushes to the socket at once;
// WriteBuffered leaves the frame in the buffer for the flush batcher.
type Dialer struct {
	address string
	connID  string
	config  DialerConfig

	conn *websocket.Conn
	raw  *bufferedConn

	writeMu   sync.Mutex
	heartbeat *Heartbeat
	flusher   *FlushBatcher
	capture   *capture
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens a link to the peer at address and starts its heartbeat and
// flush loops.
func Dial(ctx context.Context, config DialerConfig, address string) (*Dialer, error) {
	config.applyDefaults()

	dialContext, err := config.Proxy.DialContext(address)
	if err != nil {
		return nil, err
	}

	var raw *bufferedConn
	wsDialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c, err := dialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			raw = newBufferedConn(c, writeBufferSize)
			return raw, nil
		},
		HandshakeTimeout: config.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		WriteBufferSize:  writeBufferSize,
	}

	conn, _, err := wsDialer.DialContext(ctx, config.URL(address), nil)
	if err != nil {
		instrument.DialFailed()
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, address, err)
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		instrument.DialFailed()
		return nil, fmt.Errorf("%w: %s", ErrSubprotocolMismatch, address)
	}
	raw.startBuffering()

	return newDialer(address, config, conn, raw), nil
}

func newDialer(address string, config DialerConfig, conn *websocket.Conn, raw *bufferedConn) *Dialer {
	connID := uuid.New().String()
	logger := config.Logger.With("peer", address, "connID", connID, "role", KindDialer.String())

	d := &Dialer{
		address: address,
		connID:  connID,
		config:  config,
		conn:    conn,
		raw:     raw,
		capture: newCapture(config.Capture, connID, KindDialer, raw.RemoteAddr().String()),
		logger:  logger,
		done:    make(chan struct{}),
	}
	d.capture.setPeer(address)

	conn.SetReadLimit(MaxFrameSize)
	conn.SetPingHandler(d.handlePing)
	conn.SetPongHandler(d.handlePong)
	conn.SetCloseHandler(d.handleClose)

	d.heartbeat = NewHeartbeat(config.HeartbeatInterval, config.Clock, d.ping, logger)
	d.flusher = NewFlushBatcher(config.FlushDelay, config.Clock, d.flush, logger)
	d.heartbeat.Start()
	d.flusher.Start()

	instrument.LinkOpened(KindDialer.String())
	d.capture.state("", "CONNECTED", "")
	logger.Debug("link opened", "remoteAddr", raw.RemoteAddr().String())
	return d
}

// Kind returns KindDialer.
func (d *Dialer) Kind() Kind { return KindDialer }

// ConnID returns the capture log id of the link.
func (d *Dialer) ConnID() string { return d.connID }

// Address returns the peer address that was dialed.
func (d *Dialer) Address() string { return d.address }

// Done is closed once the link is closed.
func (d *Dialer) Done() <-chan struct{} { return d.done }

func (d *Dialer) role() {}

// Write sends p and flushes it to the socket before returning.
func (d *Dialer) Write(p packet.ClientPacket) error {
	data, err := packet.EncodeClient(p)
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.writeFrameLocked(p, data); err != nil {
		return err
	}
	return d.flushLocked()
}

// WriteBuffered queues p in the write buffer. The flush batcher sends it
// within about two flush delays.
func (d *Dialer) WriteBuffered(p packet.ClientPacket) error {
	data, err := packet.EncodeClient(p)
	if err != nil {
		return err
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.writeFrameLocked(p, data); err != nil {
		return err
	}
	d.flusher.MarkDirty()
	return nil
}

func (d *Dialer) writeFrameLocked(p packet.ClientPacket, data []byte) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	d.conn.SetWriteDeadline(time.Now().Add(d.config.WriteTimeout))
	if err := d.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	d.capture.frame(log.DirectionOut, data)
	d.capture.packet(log.DirectionOut, p)
	instrument.PacketOut(p.Tag().String())
	return nil
}

func (d *Dialer) flush() error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.flushLocked()
}

func (d *Dialer) flushLocked() error {
	wrote, err := d.raw.Flush()
	if wrote {
		instrument.Flushed()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Flushes returns the number of physical flushes so far.
func (d *Dialer) Flushes() int {
	return d.raw.flushCount()
}

// Receive blocks until the next server packet arrives.
//
// A frame that fails to decode yields an error wrapping packet.ErrMalformed;
// the link stays usable. Any other error means the link is gone. Cancelling
// ctx interrupts the read and also leaves the link unusable, so it is meant
// for shutdown only.
func (d *Dialer) Receive(ctx context.Context) (packet.ServerPacket, error) {
	stop := context.AfterFunc(ctx, func() {
		d.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		typ, data, err := d.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		if typ != websocket.BinaryMessage {
			continue
		}

		d.capture.frame(log.DirectionIn, data)
		p, err := packet.DecodeServer(data)
		if err != nil {
			d.capture.err(log.LayerPacket, err, "decode")
			instrument.PacketDropped("malformed")
			return nil, err
		}
		d.capture.packet(log.DirectionIn, p)
		instrument.PacketIn(p.Tag().String())
		return p, nil
	}
}

func (d *Dialer) ping() error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(d.config.WriteTimeout)); err != nil {
		return err
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	d.capture.control(log.DirectionOut, log.ControlMsgPing, nil)
	instrument.Heartbeat()
	return nil
}

// handlePing answers a ping from the peer. It runs on the read goroutine.
func (d *Dialer) handlePing(appData string) error {
	d.capture.control(log.DirectionIn, log.ControlMsgPing, nil)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	err := d.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(d.config.WriteTimeout))
	if err == nil {
		err = d.flushLocked()
	}
	if err != nil && !isClosedErr(err) {
		return err
	}
	d.capture.control(log.DirectionOut, log.ControlMsgPong, nil)
	return nil
}

func (d *Dialer) handlePong(string) error {
	d.capture.control(log.DirectionIn, log.ControlMsgPong, nil)
	return nil
}

func (d *Dialer) handleClose(code int, text string) error {
	d.capture.control(log.DirectionIn, log.ControlMsgClose, &code)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	msg := websocket.FormatCloseMessage(code, "")
	d.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	d.raw.Flush()
	return nil
}

// Close stops the loops, flushes pending frames and closes the socket.
func (d *Dialer) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.heartbeat.Stop()
		d.flusher.Stop()

		d.writeMu.Lock()
		code := websocket.CloseNormalClosure
		msg := websocket.FormatCloseMessage(code, "")
		if d.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) == nil {
			d.capture.control(log.DirectionOut, log.ControlMsgClose, &code)
		}
		d.raw.Flush()
		close(d.done)
		d.writeMu.Unlock()

		err = d.conn.Close()
		instrument.LinkClosed(KindDialer.String())
		d.capture.state("CONNECTED", "CLOSED", "")
		d.logger.Debug("link closed")
	})
	return err
}
