package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veilchat/veil-go/pkg/instrument"
	"github.com/veilchat/veil-go/pkg/log"
)

// ListenerConfig configures the inbound WebSocket endpoint.
type ListenerConfig struct {
	// Address to listen on, normally the local target of the hidden
	// service (e.g. "127.0.0.1:9878").
	Address string

	// Path is the WebSocket endpoint path (default "/veil").
	Path string

	// StaleTimeout closes sessions that sent nothing, not even a ping,
	// for this long (default 25s).
	StaleTimeout time.Duration

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration

	// Clock drives the staleness watchdog (default: wall clock).
	Clock clock.Clock

	Logger  *slog.Logger
	Capture log.Logger

	// OnAccept is called in its own goroutine for every new session.
	OnAccept func(*Acceptor)
}

// Listener accepts inbound links and hands each one to OnAccept as an
// Acceptor backed by a pair of frame queues.
type Listener struct {
	config   ListenerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger

	ln  net.Listener
	srv *http.Server

	sessions   map[*session]struct{}
	sessionsMu sync.RWMutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// session is one accepted WebSocket connection.
type session struct {
	conn     *websocket.Conn
	acceptor *Acceptor
	inbound  *FrameQueue
	outbound *FrameQueue
	capture  *capture

	// lastSeen is the clock time of the last frame or ping, in ns.
	lastSeen atomic.Int64
}

// NewListener creates a listener. It does not bind until Start.
func NewListener(config ListenerConfig) (*Listener, error) {
	if config.OnAccept == nil {
		return nil, fmt.Errorf("OnAccept is required")
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = DefaultStaleTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Listener{
		config: config,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: config.HandshakeTimeout,
			Subprotocols:     []string{Subprotocol},
			// Peers are onion services, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   orDiscard(config.Logger),
		sessions: make(map[*session]struct{}),
	}, nil
}

// Start binds the listen address and starts serving.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener already running")
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	l.ln = ln

	mux := http.NewServeMux()
	mux.Handle(l.config.Path, l)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: l.config.HandshakeTimeout,
	}

	l.stopCh = make(chan struct{})
	l.running.Store(true)

	ticker := l.config.Clock.Ticker(l.config.StaleTimeout / 4)
	l.wg.Add(2)
	go l.serve()
	go l.watchdog(ticker)

	l.logger.Info("listening", "address", ln.Addr().String(), "path", l.config.Path)
	return nil
}

func (l *Listener) serve() {
	defer l.wg.Done()

	if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener stopped", "error", err)
	}
}

// Stop closes the listener and every session.
func (l *Listener) Stop() error {
	if !l.running.CompareAndSwap(true, false) {
		return nil
	}
	close(l.stopCh)
	err := l.srv.Close()

	l.sessionsMu.RLock()
	for s := range l.sessions {
		s.close()
	}
	l.sessionsMu.RUnlock()

	l.wg.Wait()
	return err
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	if l.ln != nil {
		return l.ln.Addr()
	}
	return nil
}

// SessionCount returns the number of open sessions.
func (l *Listener) SessionCount() int {
	l.sessionsMu.RLock()
	defer l.sessionsMu.RUnlock()
	return len(l.sessions)
}

// ServeHTTP upgrades the request and starts a session.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug("upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	if conn.Subprotocol() != Subprotocol {
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "subprotocol required")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	conn.SetReadLimit(MaxFrameSize)

	connID := uuid.New().String()
	remote := conn.RemoteAddr().String()
	s := &session{
		conn:     conn,
		inbound:  NewFrameQueue(),
		outbound: NewFrameQueue(),
	}
	s.acceptor = NewAcceptor(s.inbound, s.outbound, AcceptorConfig{
		ConnID:     connID,
		RemoteAddr: remote,
		Logger:     l.config.Logger,
		Capture:    l.config.Capture,
	})
	s.capture = s.acceptor.capture
	s.touch(l.config.Clock)

	conn.SetPingHandler(func(appData string) error {
		s.touch(l.config.Clock)
		s.capture.control(log.DirectionIn, log.ControlMsgPing, nil)
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(l.config.WriteTimeout))
		if err != nil && !isClosedErr(err) {
			return err
		}
		s.capture.control(log.DirectionOut, log.ControlMsgPong, nil)
		return nil
	})

	l.sessionsMu.Lock()
	if !l.running.Load() {
		l.sessionsMu.Unlock()
		s.close()
		return
	}
	l.sessions[s] = struct{}{}
	l.wg.Add(2)
	l.sessionsMu.Unlock()

	go l.readLoop(s)
	go l.writeLoop(s)
	go l.config.OnAccept(s.acceptor)
}

// readLoop feeds inbound binary frames to the acceptor.
func (l *Listener) readLoop(s *session) {
	defer l.wg.Done()
	defer l.remove(s)

	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if !isClosedErr(err) {
				l.logger.Debug("session read failed", "connID", s.acceptor.ConnID(), "error", err)
			}
			break
		}
		s.touch(l.config.Clock)
		if typ != websocket.BinaryMessage {
			continue
		}
		if s.inbound.Push(data) != nil {
			break
		}
	}
	s.acceptor.Close()
}

// writeLoop sends queued frames until the outbound queue is closed and
// drained, then closes the socket.
func (l *Listener) writeLoop(s *session) {
	defer l.wg.Done()

	for {
		data, err := s.outbound.Pop(context.Background())
		if err != nil {
			break
		}
		s.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			l.logger.Debug("session write failed", "connID", s.acceptor.ConnID(), "error", err)
			break
		}
		s.capture.frame(log.DirectionOut, data)
	}

	code := websocket.CloseNormalClosure
	msg := websocket.FormatCloseMessage(code, "")
	if s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)) == nil {
		s.capture.control(log.DirectionOut, log.ControlMsgClose, &code)
	}
	s.conn.Close()
	s.acceptor.Close()
}

// watchdog closes sessions that have been silent longer than StaleTimeout.
func (l *Listener) watchdog(ticker *clock.Ticker) {
	defer l.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.closeStale()
		}
	}
}

func (l *Listener) closeStale() {
	now := l.config.Clock.Now().UnixNano()
	limit := l.config.StaleTimeout.Nanoseconds()

	var stale []*session
	l.sessionsMu.RLock()
	for s := range l.sessions {
		if now-s.lastSeen.Load() > limit {
			stale = append(stale, s)
		}
	}
	l.sessionsMu.RUnlock()

	for _, s := range stale {
		l.logger.Info("closing stale session", "connID", s.acceptor.ConnID(), "timeout", l.config.StaleTimeout)
		s.capture.state("CONNECTED", "STALE", "no traffic")
		instrument.StaleSession()
		s.close()
	}
}

func (l *Listener) remove(s *session) {
	l.sessionsMu.Lock()
	delete(l.sessions, s)
	l.sessionsMu.Unlock()
}

func (s *session) touch(clk clock.Clock) {
	s.lastSeen.Store(clk.Now().UnixNano())
}

// close tears the session down without draining the outbound queue.
func (s *session) close() {
	s.acceptor.Close()
	s.conn.Close()
}
