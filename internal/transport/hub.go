package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	// The server binds to loopback by default; browsers on the same host
	// connect from arbitrary file:// and localhost origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// command is a control message sent by a websocket client
type command struct {
	Action string `json:"action"`
}

// reply is sent to a single client in answer to a command
type reply struct {
	Type      string              `json:"type"`
	Action    string              `json:"action"`
	SessionID string              `json:"session_id,omitempty"`
	Error     string              `json:"error,omitempty"`
	Snapshot  *dictation.Snapshot `json:"snapshot,omitempty"`
}

// Hub pushes session events to every connected websocket client and accepts
// start/stop/cancel/status commands from them
type Hub struct {
	ctrl   Controller
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// NewHub creates a hub. ctrl may be nil for a push-only hub.
func NewHub(ctrl Controller) *Hub {
	return &Hub{
		ctrl:    ctrl,
		logger:  observability.Component("ws_hub"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	c.logger = h.logger.With().Str("client_id", c.id).Logger()

	h.register(c)
	c.logger.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	go h.writePump(c)
	h.readPump(c)
}

// SetController attaches the session controller commands are routed to
func (h *Hub) SetController(ctrl Controller) {
	h.mu.Lock()
	h.ctrl = ctrl
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Listener returns a dictation.Listener that broadcasts to all clients
func (h *Hub) Listener() dictation.Listener {
	return dictation.EventFunc(h.Broadcast)
}

// Broadcast queues ev for every client. Slow clients miss events rather than
// stall the session.
func (h *Hub) Broadcast(ev dictation.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			observability.RecordPublish("websocket", false)
			c.logger.Debug().Str("type", string(ev.Type)).Msg("Client queue full, dropping event")
		}
	}
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		close(c.done)
		c.conn.Close()
		c.logger.Info().Msg("WebSocket client disconnected")
	})
}

func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse client command")
			h.reply(c, reply{Type: "error", Error: "invalid command"})
			continue
		}

		// Stop blocks until the tail is transcribed; keep reading meanwhile
		go h.handle(c, cmd)
	}
}

func (h *Hub) handle(c *client, cmd command) {
	h.mu.RLock()
	ctrl := h.ctrl
	h.mu.RUnlock()
	if ctrl == nil {
		h.reply(c, reply{Type: "error", Action: cmd.Action, Error: "control disabled"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	r := reply{Type: "ack", Action: cmd.Action}
	switch cmd.Action {
	case "start":
		id, err := ctrl.Start(ctx)
		r.SessionID = id
		setError(&r, err)
	case "stop":
		_, err := ctrl.Stop(ctx)
		setError(&r, err)
	case "cancel":
		setError(&r, ctrl.Cancel())
	case "toggle":
		id, err := toggle(ctx, ctrl)
		r.SessionID = id
		setError(&r, err)
	case "status":
		snap := ctrl.Status()
		r.Snapshot = &snap
	default:
		c.logger.Warn().Str("action", cmd.Action).Msg("Unknown client command")
		r.Type = "error"
		r.Error = "unknown action"
	}
	h.reply(c, r)
}

func setError(r *reply, err error) {
	if err != nil {
		r.Type = "error"
		r.Error = err.Error()
	}
}

func (h *Hub) reply(c *client, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warn().Msg("Client queue full, dropping reply")
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.unregister(c)
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error().Err(err).Msg("Error sending event to client")
				observability.RecordPublish("websocket", false)
				return
			}
			observability.RecordPublish("websocket", true)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
