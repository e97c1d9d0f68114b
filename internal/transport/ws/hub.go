// Package ws serves the WebSocket chat protocol used by the CLI.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/opsagent/internal/stream"
)

var (
	// ErrBufferFull is returned when a client does not drain its send buffer in time.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned for writes to an unregistered connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	closeOnce    sync.Once
	writeMu      sync.Mutex

	mu      sync.Mutex
	helloed bool
	runs    map[string]*stream.Run
}

var _ stream.Sender = (*Connection)(nil)

// Hub manages all WebSocket connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// Channels for registration/unregistration
	register   chan *Connection
	unregister chan *Connection

	mu sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
	}
}

// Run starts the hub's main loop. When ctx is done every connection is closed.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Debug().Str("connection_id", conn.ID).Msg("connection registered")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				conn.shutdown()
			}
			h.mu.Unlock()
			log.Debug().Str("connection_id", conn.ID).Msg("connection unregistered")

		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				conn.shutdown()
			}
			h.mu.Unlock()
			return
		}
	}
}

// NewConnection creates a new connection. Its context ends when it is
// unregistered.
func (h *Hub) NewConnection(ws *websocket.Conn, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ID:           uuid.New().String(),
		Conn:         ws,
		Send:         make(chan []byte, 256),
		ctx:          ctx,
		cancel:       cancel,
		writeTimeout: writeTimeout,
		runs:         make(map[string]*stream.Run),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Context is done once the connection is gone.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// SendJSON queues v for the write pump. It waits up to the write timeout
// for buffer space.
func (c *Connection) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.Send <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-timer.C:
		return ErrBufferFull
	}
}

// Ping writes a ping control frame.
func (c *Connection) Ping() error {
	if c.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	return c.WriteControl(websocket.PingMessage, nil)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// WriteControl writes a control frame. It may run concurrently with WriteMessage.
func (c *Connection) WriteControl(messageType int, data []byte) error {
	return c.Conn.WriteControl(messageType, data, time.Now().Add(c.writeTimeout))
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

func (c *Connection) markHello() {
	c.mu.Lock()
	c.helloed = true
	c.mu.Unlock()
}

func (c *Connection) hasHello() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.helloed
}

func (c *Connection) trackRun(runID string, run *stream.Run) {
	c.mu.Lock()
	c.runs[runID] = run
	c.mu.Unlock()
}

func (c *Connection) forgetRun(runID string) {
	c.mu.Lock()
	delete(c.runs, runID)
	c.mu.Unlock()
}

func (c *Connection) run(runID string) (*stream.Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[runID]
	return r, ok
}

func (c *Connection) shutdown() {
	c.closeOnce.Do(c.cancel)
}
