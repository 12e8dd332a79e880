// Package ws implements the WebSocket adapter pushing run progress to
// connected clients, complementing the polling endpoints.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// client is one connected peer. researchID narrows what it receives: a client
// that connected with ?research_id= only sees that research's run events, one
// without a filter sees everything.
type client struct {
	ws         *websocket.Conn
	researchID string
	cancel     context.CancelFunc
}

func (c *client) wants(researchID string) bool {
	return c.researchID == "" || researchID == "" || c.researchID == researchID
}

// Hub tracks active WebSocket connections and routes run events to the
// clients watching the research they belong to.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and serves it until
// the peer disconnects. An optional research_id query parameter scopes which
// runs' events the peer receives.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		ws:         conn,
		researchID: r.URL.Query().Get("research_id"),
		cancel:     cancel,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr, "research_id", c.researchID)

	defer func() {
		h.drop(c)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// Peers do not send data; reading consumes control frames and detects
	// the disconnect.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast sends a message to every client watching the given research. An
// empty researchID addresses all clients regardless of their filter.
func (h *Hub) Broadcast(ctx context.Context, researchID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(researchID) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.drop(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
		slog.Info("websocket disconnected", "research_id", c.researchID)
	}
}
