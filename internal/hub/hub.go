package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/aquameter/telemetry-hub/internal/metrics"
)

// Fan-out event names pushed to dashboard clients.
const (
	EventTelemetry     = "telemetry"
	EventAlert         = "alert"
	EventAlertResolved = "alert_resolved"
	EventCommandAck    = "command_ack"
	EventHealth        = "health"
)

// Envelope wraps every broadcast payload with its event name.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Hub maintains the set of connected dashboard clients and broadcasts
// named events to all of them.
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run processes client registration and broadcasts until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.ConnectedClients.Inc()
			h.logger.Info("Client registered", zap.String("remote", client.RemoteAddr()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				metrics.ConnectedClients.Dec()
				h.logger.Info("Client unregistered", zap.String("remote", client.RemoteAddr()))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than block the pipeline.
					h.logger.Warn("Client send buffer full, dropping",
						zap.String("remote", client.RemoteAddr()))
					close(client.send)
					delete(h.clients, client)
					metrics.ConnectedClients.Dec()
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast pushes a named event to every connected client. Marshal
// failures are logged and swallowed; fan-out is best-effort by design.
func (h *Hub) Broadcast(event string, payload interface{}) {
	message, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast payload",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	metrics.EventsBroadcast.WithLabelValues(event).Inc()

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast queue full, dropping event", zap.String("event", event))
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
