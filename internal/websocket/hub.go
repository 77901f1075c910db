// Package websocket pushes live dashboard updates to connected admin
// browsers: license list change notifications, per-session action state,
// and session lifecycle events.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"keydash/internal/config"
	"keydash/internal/infrastructure"
	"keydash/internal/viewmodel"
)

// Message types pushed to dashboard clients.
const (
	TypeConnection      = "connection"
	TypeLicensesChanged = "licenses_changed"
	TypeActionState     = "action_state"
	TypeSessionEnded    = "session_ended"
)

// Envelope is the wire shape of every pushed message.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// delivery pairs a marshaled envelope with its audience. An empty
// session id addresses every connected client.
type delivery struct {
	sessionID string
	payload   []byte
}

// eviction names a session whose sockets must close, with a farewell
// frame to send first.
type eviction struct {
	sessionID string
	payload   []byte
}

// Hub tracks connected dashboard sockets and fans out push messages.
// License list changes go to every client; action state goes only to
// the session whose dispatcher produced it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	evict      chan eviction

	mu      sync.RWMutex
	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	pingPeriod time.Duration
	pongWait   time.Duration

	totalConnections atomic.Int64
	messagesSent     atomic.Int64
	droppedClients   atomic.Int64

	quit    chan struct{}
	running bool
}

// NewHub creates a hub with the given keepalive configuration. Zero
// durations fall back to the package defaults.
func NewHub(cfg config.WebSocketConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 30 * time.Second
	}
	pongWait := cfg.PongWait
	if pongWait <= pingPeriod {
		pongWait = 2 * pingPeriod
	}

	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan delivery, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		evict:      make(chan eviction),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
		quit:       make(chan struct{}),
	}
}

// SetMetrics wires the connected-clients gauge. Safe to leave unset in
// tests.
func (h *Hub) SetMetrics(m *infrastructure.BusinessMetrics) {
	h.metrics = m
}

// Start launches the hub loop. Calling Start twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.logger.Info("hub shutting down",
				slog.Int64("total_connections", h.totalConnections.Load()),
				slog.Int64("messages_sent", h.messagesSent.Load()))
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "read pump ended")

		case ev := <-h.evict:
			h.evictSession(ev)

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	h.totalConnections.Add(1)

	h.logger.Info("client connected",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr))

	if h.metrics != nil {
		h.metrics.WebSocketClients.Add(context.Background(), 1)
	}

	welcome, err := json.Marshal(Envelope{
		Type: TypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"message":   "connected to the license dashboard",
			"client_id": client.id,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err == nil {
		select {
		case client.send <- welcome:
			h.messagesSent.Add(1)
		default:
			h.logger.Warn("welcome frame dropped, client buffer full",
				slog.String("client_id", client.id))
		}
	}
}

func (h *Hub) removeClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("client disconnected",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))

	if h.metrics != nil {
		h.metrics.WebSocketClients.Add(context.Background(), -1)
	}
}

func (h *Hub) evictSession(ev eviction) {
	h.mu.RLock()
	targets := make([]*Client, 0, 2)
	for client := range h.clients {
		if client.sessionID == ev.sessionID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		// Best effort farewell so the browser can show why the socket
		// is about to close.
		if ev.payload != nil {
			select {
			case client.send <- ev.payload:
				h.messagesSent.Add(1)
			default:
			}
		}
		h.removeClient(client, "session ended")
	}

	if len(targets) > 0 {
		h.logger.Info("session sockets evicted",
			slog.Int("client_count", len(targets)))
	}
}

func (h *Hub) deliver(d delivery) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if d.sessionID == "" || client.sessionID == d.sessionID {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	dropped := 0
	for _, client := range targets {
		select {
		case client.send <- d.payload:
			h.messagesSent.Add(1)
		default:
			// The client is not draining its buffer; cut it loose
			// rather than stall everyone else.
			dropped++
			h.droppedClients.Add(1)
			h.logger.Warn("client send buffer full, disconnecting",
				slog.String("client_id", client.id))
			h.removeClient(client, "send buffer full")
		}
	}

	if dropped > 0 {
		h.logger.Warn("broadcast skipped slow clients",
			slog.Int("delivered", len(targets)-dropped),
			slog.Int("dropped", dropped))
	}
}

// BroadcastLicensesChanged tells every connected dashboard that the
// license list changed, and which action changed it.
func (h *Hub) BroadcastLicensesChanged(action, licenseID string) {
	h.push("", Envelope{
		Type: TypeLicensesChanged,
		Data: map[string]interface{}{
			"action":     action,
			"license_id": licenseID,
		},
	})
}

// BroadcastActionState pushes dispatcher state to the session that owns
// the action. Other sessions never see it.
func (h *Hub) BroadcastActionState(sessionID string, state viewmodel.State) {
	if sessionID == "" {
		return
	}
	h.push(sessionID, Envelope{Type: TypeActionState, Data: state})
}

// EvictSession closes every socket belonging to an ended session after
// telling the browser why.
func (h *Hub) EvictSession(sessionID, reason string) {
	if sessionID == "" {
		return
	}
	payload, err := json.Marshal(Envelope{
		Type:      TypeSessionEnded,
		Data:      map[string]interface{}{"reason": reason},
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if err != nil {
		payload = nil
	}
	select {
	case h.evict <- eviction{sessionID: sessionID, payload: payload}:
	case <-h.quit:
	}
}

func (h *Hub) push(sessionID string, env Envelope) {
	env.Timestamp = time.Now().Format(time.RFC3339)
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal push message",
			slog.String("type", env.Type),
			slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- delivery{sessionID: sessionID, payload: payload}:
	case <-h.quit:
	}
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns hub counters for diagnostics.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	active := len(h.clients)
	h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    active,
		"total_connections": h.totalConnections.Load(),
		"messages_sent":     h.messagesSent.Load(),
		"dropped_clients":   h.droppedClients.Load(),
	}
}

// Stop ends the hub loop and closes every client. Calling Stop twice is
// a no-op.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
