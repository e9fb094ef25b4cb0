package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Viewer roles carried by a connection.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

const (
	// WriteBufferSize is the number of queued outbound messages per connection.
	WriteBufferSize = 100

	DefaultWriteTimeout = 5 * time.Second
)

// Connection implements the interfaces.Connection interface.
// All socket writes go through a single writer goroutine.
type Connection struct {
	conn          *websocket.Conn
	id            string
	writeCh       chan []byte
	writeTimeout  time.Duration
	clientID      string
	role          string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection wraps conn and starts its writer goroutine. A zero
// writeTimeout uses DefaultWriteTimeout.
func NewConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		id:           uuid.NewString(),
		writeCh:      make(chan []byte, WriteBufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	// A failed write ends the connection so queued writers stop waiting.
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery, waiting at most the write timeout for
// buffer space.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
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

// Done is closed once the connection is no longer usable.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the per-connection identifier. A browser may hold several
// connections under one client id.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) SetCredentials(clientID, role string) error {
	if role != RoleAdmin && role != RoleViewer {
		return ErrInvalidRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientID = clientID
	c.role = role
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}
