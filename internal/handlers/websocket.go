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
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the upstream auth proxy
	},
}

// WSMessage is the envelope of every message sent to clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler relays indexing events to connected browsers
type WebSocketHandler struct {
	logger           arbor.ILogger
	clients          map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	eventService     interfaces.EventService
	progressThrottle *rate.Limiter // Limits index_type_completed broadcasts, nil = unthrottled
	subscriptions    map[interfaces.EventType]string
	serverInstanceID string // Clients use it to detect a server restart
}

// NewWebSocketHandler creates the handler and subscribes it to index events
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		clients:          make(map[*websocket.Conn]*sync.Mutex),
		eventService:     eventService,
		subscriptions:    make(map[interfaces.EventType]string),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.Throttle != "" {
		if interval, err := time.ParseDuration(config.Throttle); err == nil && interval > 0 {
			h.progressThrottle = rate.NewLimiter(rate.Every(interval), 1)
		} else {
			logger.Warn().Str("throttle", config.Throttle).Msg("Invalid websocket throttle interval - throttling disabled")
		}
	}

	if eventService != nil {
		h.subscribeToIndexEvents()
	}

	logger.Debug().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

func (h *WebSocketHandler) subscribeToIndexEvents() {
	for _, eventType := range []interfaces.EventType{
		interfaces.EventIndexStarted,
		interfaces.EventIndexTypeCompleted,
		interfaces.EventIndexCompleted,
		interfaces.EventConversationPurged,
	} {
		eventType := eventType
		id, err := h.eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			if event.Type == interfaces.EventIndexTypeCompleted && h.progressThrottle != nil && !h.progressThrottle.Allow() {
				return nil
			}
			h.Broadcast(WSMessage{Type: string(event.Type), Payload: event.Payload})
			return nil
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
			continue
		}
		h.subscriptions[eventType] = id
	}
}

// HandleWebSocket handles WebSocket connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Str("user_id", UserID(r)).Msg("WebSocket client connected")

	h.send(conn, WSMessage{
		Type: "hello",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
			"version":            common.GetVersion(),
		},
	})

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", remaining).Msg("WebSocket client disconnected")
	}()

	// Read until the client goes away, keeping the connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// Broadcast sends msg to every connected client
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn, mutex := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, mutex)
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

func (h *WebSocketHandler) send(conn *websocket.Conn, msg WSMessage) {
	h.mu.RLock()
	mutex, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes from events and disconnects every client
func (h *WebSocketHandler) Close() {
	if h.eventService != nil {
		for eventType, id := range h.subscriptions {
			_ = h.eventService.Unsubscribe(eventType, id)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]*sync.Mutex)
}
