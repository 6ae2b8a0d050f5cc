// Package ws wraps the websocket transport: a single-writer connection
// wrapper and the registry that enforces one live connection per identity.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"teampulse/pkg/types"
)

// Connection is one live client session. All writes are serialized through
// a single goroutine; Send never blocks beyond a channel enqueue so slow
// clients cannot stall broadcasts.
type Connection struct {
	id   string
	conn *websocket.Conn

	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	writeMu   sync.Mutex // serializes frame writes between the writer and CloseWithReason

	mu           sync.RWMutex
	identity     types.Identity
	connectedAt  time.Time
	lastSeen     time.Time
	mobileActive bool

	writeTimeout time.Duration
}

// NewConnection creates a connection wrapper and starts its writer.
func NewConnection(conn *websocket.Conn, identity types.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		sendCh:       make(chan []byte, bufferSize),
		ctx:          ctx,
		cancel:       cancel,
		identity:     identity,
		connectedAt:  now,
		lastSeen:     now,
		writeTimeout: writeTimeout,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.writeMu.Lock()
			err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err == nil {
				err = c.conn.WriteMessage(websocket.TextMessage, data)
			}
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send enqueues a server event for delivery. It returns ErrSendBufferFull
// instead of blocking when the client cannot keep up, and
// ErrConnectionClosed once the connection is torn down.
func (c *Connection) Send(event types.ServerEvent) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidEvent
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// CloseWithReason notifies the client why it is being closed, sends a close
// frame, and closes. The reason event is written synchronously with a short
// deadline, never queued: a queued event could still be in the buffer when
// Close cancels the writer.
func (c *Connection) CloseWithReason(reason string) error {
	data, err := json.Marshal(types.NewEvent(types.EventConnectionClosed, types.ConnectionClosedPayload{Reason: reason}))
	if err == nil {
		deadline := time.Now().Add(time.Second)
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
	}
	return c.Close()
}

// Close cancels the writer and closes the transport. Safe to call more
// than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection is torn down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) Identity() types.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.UserID
}

func (c *Connection) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}

// Touch records client activity.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// SetMobileActive flags whether the client is foregrounded on a mobile
// device.
func (c *Connection) SetMobileActive(active bool) {
	c.mu.Lock()
	c.mobileActive = active
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Connection) MobileActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mobileActive
}

// Transport-level helpers for the read pump.

func (c *Connection) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Connection) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

// Ping sends a transport-level ping control frame.
func (c *Connection) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, []byte{}, deadline)
}
