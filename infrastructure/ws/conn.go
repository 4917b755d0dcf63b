// Package ws is the gorilla/websocket transport behind the session state
// machine. It owns the socket-level concerns the core stays ignorant of:
// read deadlines, ping/pong keepalive, close handshakes.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Conn adapts a gorilla connection to runtime.Transport. The idle timeout
// doubles as the heartbeat window: every pong (or data frame) pushes the
// read deadline forward, so a silent peer times out on its own.
type Conn struct {
	conn        *websocket.Conn
	idleTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	stopPing  chan struct{}
}

func NewConn(conn *websocket.Conn, idleTimeout time.Duration, maxFrameSize int64) *Conn {
	c := &Conn{
		conn:        conn,
		idleTimeout: idleTimeout,
		stopPing:    make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	go c.keepAlive()
	return c
}

func (c *Conn) ReadFrame() ([]byte, error) {
	_, frame, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	// Client activity counts against the idle timeout like a pong does.
	_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
	return frame, nil
}

func (c *Conn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stopPing)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
