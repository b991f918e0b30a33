package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// Conn wraps a websocket with a bounded outbound queue. TrySend never
// blocks; a full queue means the client is too slow and the frame is
// dropped.
type Conn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newConn(ws *websocket.Conn, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 32
	}
	return &Conn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var _ core.SignalConnection = (*Conn)(nil)
