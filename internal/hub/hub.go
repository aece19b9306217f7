// Package hub groups WebSocket connections by conversation session.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const sendBuffer = 256

var (
	// ErrBufferFull is returned when a connection's send buffer is full.
	ErrBufferFull = errors.New("send buffer full")
	// ErrConnectionClosed is returned when sending to a removed connection.
	ErrConnectionClosed = errors.New("connection closed")
)

// Connection is one WebSocket client. Send is closed by the hub when the
// connection is removed; the write pump drains it.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	// guarded by Hub.mu
	sessionID string
	closed    bool

	writeMu sync.Mutex
}

// Hub tracks connections and the session each one follows.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	sessions    map[string]map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan sessionMessage
	done       chan struct{}

	logger *zap.Logger
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		sessions:    make(map[string]map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan sessionMessage, sendBuffer),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, conn := range h.connections {
				h.removeLocked(conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			if !conn.closed {
				h.connections[conn.ID] = conn
			}
			sid := conn.sessionID
			h.mu.Unlock()
			h.logger.Debug("connection_registered", zap.String("conn_id", conn.ID), zap.String("session_id", sid))

		case conn := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(conn)
			h.mu.Unlock()
			h.logger.Debug("connection_unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg sessionMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.sessions[msg.sessionID] {
		select {
		case conn.Send <- msg.data:
		default:
			h.logger.Warn("connection_buffer_full", zap.String("conn_id", id), zap.String("session_id", msg.sessionID))
			h.removeLocked(conn)
		}
	}
}

// removeLocked drops conn from every index and closes Send once.
func (h *Hub) removeLocked(conn *Connection) {
	if conn.closed {
		return
	}
	conn.closed = true
	delete(h.connections, conn.ID)
	h.leaveLocked(conn)
	close(conn.Send)
}

func (h *Hub) leaveLocked(conn *Connection) {
	members := h.sessions[conn.sessionID]
	if members == nil {
		return
	}
	delete(members, conn.ID)
	if len(members) == 0 {
		delete(h.sessions, conn.sessionID)
	}
}

// NewConnection wraps ws. Register it with the hub before use.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, sendBuffer),
	}
}

// Register adds a connection. It is a no-op once Run has returned.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister removes a connection and closes its Send channel.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// BindSession moves conn to sessionID, leaving its previous session.
func (h *Hub) BindSession(conn *Connection, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.closed {
		return
	}
	h.leaveLocked(conn)
	conn.sessionID = sessionID
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Connection)
	}
	h.sessions[sessionID][conn.ID] = conn
}

// Session returns the session conn is bound to, or "".
func (h *Hub) Session(conn *Connection) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return conn.sessionID
}

// Broadcast queues data for every connection of a session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	case <-h.done:
	}
}

// BroadcastJSON encodes v and broadcasts it to a session.
func (h *Hub) BroadcastJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendToConnection queues data for one connection without blocking.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	// Send is only closed under the write lock.
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection encodes v and sends it to one connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GetSessionCount returns the number of sessions with a bound connection.
func (h *Hub) GetSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HasActiveConnections reports whether any connection follows sessionID.
func (h *Hub) HasActiveConnections(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}

// WriteMessage writes one frame; gorilla connections allow a single writer.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
