package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"callwatch/internal/logging"
	"callwatch/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// AlertFrame is the payload pushed to websocket subscribers for every
// resolved dispatch.
type AlertFrame struct {
	RuleID   string                `json:"rule_id"`
	RuleName string                `json:"rule_name"`
	EventSID string                `json:"event_sid"`
	Category models.Category       `json:"category"`
	Status   models.DispatchStatus `json:"status"`
	Message  string                `json:"message,omitempty"`
	At       time.Time             `json:"at"`
}

// Hub fans resolved alerts out to connected websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logger  *logging.Logger
}

// NewHub builds an empty Hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// Notify is registered as the engine's dispatch callback.
func (h *Hub) Notify(match models.MatchEvent, rec models.DispatchRecord) {
	frame := AlertFrame{
		RuleID:   match.RuleID.String(),
		RuleName: match.RuleName,
		EventSID: match.Event.SID,
		Category: match.Event.Category,
		Status:   rec.Status,
		Message:  match.Event.Message,
		At:       time.Now().UTC(),
	}
	h.broadcast(frame)
}

func (h *Hub) broadcast(frame AlertFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(frame); err != nil {
			h.logger.WithComponent("ws").Errorf("Write to client failed, dropping connection: %v", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Serve upgrades the request and registers the connection until the client
// disconnects.
func (h *Hub) Serve(c *gin.Context) {
	log := h.logger.WithComponent("ws")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("Websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	log.Infof("Client connected, %d active", n)

	// Drain reads so pings and close frames are handled. The feed is
	// one-directional; any read error means the client is gone.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if h.clients[conn] {
					conn.Close()
					delete(h.clients, conn)
				}
				n := len(h.clients)
				h.mu.Unlock()
				log.Infof("Client disconnected, %d active", n)
				return
			}
		}
	}()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
