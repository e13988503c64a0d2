package render

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 5 * time.Second

	// sendBuffer is the number of commands queued per connection. A client
	// that falls further behind is disconnected and reloads the view.
	sendBuffer = 64
)

// client owns the write side of one connection. Only its writer goroutine
// writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans scene-graph commands out to the websocket connections of each
// tour session.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[*websocket.Conn]*client // sessionID -> connections
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]*client),
		logger:  logger,
	}
}

// Subscribe registers a connection for a session.
func (h *Hub) Subscribe(sessionID string, conn *websocket.Conn) {
	h.register(sessionID, newClient(conn))
}

// Attach queues hello on conn and then subscribes it, so no command can be
// delivered before the hello message.
func (h *Hub) Attach(sessionID string, conn *websocket.Conn, hello any) error {
	data, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	c := newClient(conn)
	c.send <- data
	h.register(sessionID, c)
	return nil
}

func (h *Hub) register(sessionID string, c *client) {
	h.mu.Lock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = make(map[*websocket.Conn]*client)
	}
	h.clients[sessionID][c.conn] = c
	h.mu.Unlock()

	go h.writeLoop(sessionID, c)
}

// writeLoop drains the client's queue until it is stopped or a write fails.
func (h *Hub) writeLoop(sessionID string, c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("failed to send render command", "error", err, "session_id", sessionID)
				// the reader loop unsubscribes the connection when it closes
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Unsubscribe removes a connection from every session and stops its writer.
func (h *Hub) Unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, conns := range h.clients {
		if c, ok := conns[conn]; ok {
			c.stop()
			delete(conns, conn)
		}
		if len(conns) == 0 {
			delete(h.clients, sessionID)
		}
	}
}

// Broadcast queues a command on every connection of a session. It never
// blocks: a connection whose queue is full is dropped.
func (h *Hub) Broadcast(sessionID string, cmd Command) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients[sessionID]))
	for _, c := range h.clients[sessionID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		h.logger.Error("failed to marshal render command", "error", err, "op", cmd.Op)
		return
	}

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("render stream too slow, dropping connection",
				"session_id", sessionID,
				"op", cmd.Op,
			)
			h.Unsubscribe(c.conn)
			_ = c.conn.Close()
		}
	}
}

// ConnectionCount returns the number of connections for a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// Sink returns a Sink that broadcasts to one session.
func (h *Hub) Sink(sessionID string) Sink {
	return sessionSink{hub: h, sessionID: sessionID}
}

type sessionSink struct {
	hub       *Hub
	sessionID string
}

func (s sessionSink) Send(cmd Command) {
	s.hub.Broadcast(s.sessionID, cmd)
}
