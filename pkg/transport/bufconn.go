package transport

import (
	"bufio"
	"net"
	"sync"
)

// bufferedConn buffers writes until Flush once buffering is enabled.
// Writes pass straight through before that so the WebSocket upgrade is not
// held back.
type bufferedConn struct {
	net.Conn

	mu        sync.Mutex
	w         *bufio.Writer
	buffering bool
	flushes   int
}

func newBufferedConn(c net.Conn, size int) *bufferedConn {
	return &bufferedConn{Conn: c, w: bufio.NewWriterSize(c, size)}
}

func (c *bufferedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.buffering {
		return c.Conn.Write(p)
	}
	return c.w.Write(p)
}

// Flush writes buffered bytes to the socket. It reports whether anything
// was written.
func (c *bufferedConn) Flush() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.w.Buffered() == 0 {
		return false, nil
	}
	c.flushes++
	return true, c.w.Flush()
}

func (c *bufferedConn) startBuffering() {
	c.mu.Lock()
	c.buffering = true
	c.mu.Unlock()
}

func (c *bufferedConn) flushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}
