package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the wire envelope for pushed events
type WSMessage struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler pushes job and workflow change events to connected
// clients. Each client sees only events for its own user. Mid-run
// progress updates are throttled per client; state changes always go
// through.
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*wsClient
	mu               sync.RWMutex
	eventService     interfaces.EventService
	throttleInterval time.Duration
	serverInstanceID string // Unique ID generated on startup - clients use to detect server restart
}

type wsClient struct {
	userID            string
	writeMu           sync.Mutex
	progressThrottler *rate.Limiter // nil when throttling is disabled
}

// NewWebSocketHandler creates the handler and subscribes it to the
// event bus
func NewWebSocketHandler(eventService interfaces.EventService, throttleInterval time.Duration, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*wsClient),
		eventService:     eventService,
		throttleInterval: throttleInterval,
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	if eventService != nil {
		h.subscribe()
	}
	return h
}

// HandleWebSocket handles WebSocket connections
// GET /ws?user_id=...
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := streamUserID(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &wsClient{userID: userID}
	if h.throttleInterval > 0 {
		client.progressThrottler = rate.NewLimiter(rate.Every(h.throttleInterval), 1)
	}

	h.mu.Lock()
	h.clients[conn] = client
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn, client)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello announces the server instance so clients can detect a
// restart and clear cached state
func (h *WebSocketHandler) sendHello(conn *websocket.Conn, client *wsClient) {
	msg := WSMessage{
		Type: "hello",
		ID:   h.serverInstanceID,
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	client.writeMu.Lock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to send hello to client")
	}
	client.writeMu.Unlock()
}

// subscribe wires the handler to job and workflow change events
func (h *WebSocketHandler) subscribe() {
	h.eventService.Subscribe(interfaces.EventJobUpdated, func(ctx context.Context, event interfaces.Event) error {
		throttleable := false
		if summary, ok := event.Payload.(models.Summary); ok {
			// Mid-run progress is throttleable; state transitions are not
			throttleable = summary.State == models.JobStateRunning
		}
		h.broadcast(event, throttleable)
		return nil
	})

	h.eventService.Subscribe(interfaces.EventWorkflowUpdated, func(ctx context.Context, event interfaces.Event) error {
		h.broadcast(event, false)
		return nil
	})
}

// broadcast fans an event out to every client owned by the event's
// user. Throttleable events are dropped when the client's limiter says
// so; the next state change or the next allowed tick resynchronizes.
func (h *WebSocketHandler) broadcast(event interfaces.Event, throttleable bool) {
	msg := WSMessage{
		Type:    string(event.Type),
		ID:      event.ID,
		Payload: event.Payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to marshal event message")
		return
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.clients))
	clients := make([]*wsClient, 0, len(h.clients))
	for conn, client := range h.clients {
		if client.userID != event.UserID {
			continue
		}
		targets = append(targets, conn)
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for i, conn := range targets {
		client := clients[i]
		if throttleable && client.progressThrottler != nil && !client.progressThrottler.Allow() {
			continue
		}

		client.writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		client.writeMu.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to send event to client")
		}
	}
}
