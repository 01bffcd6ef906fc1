// Package events pushes session store change notifications to WebSocket
// subscribers, so UI layers can mirror state without polling.
package events

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	chatservice "github.com/mxfan/gemchat/backend/internal/service/chat"
)

const writeTimeout = 10 * time.Second

// Handler upgrades connections and relays store events.
type Handler struct {
	store    *chatservice.Service
	upgrader websocket.Upgrader
}

// New creates the events handler.
func New(store *chatservice.Service) *Handler {
	return &Handler{
		store: store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the WebSocket route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type outgoingEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[events] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.store.Subscribe()
	defer cancel()

	// Reader goroutine: we accept no inbound messages, but reading is how we
	// learn the peer went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(outgoingEvent{
				Type:      string(event.Type),
				SessionID: event.SessionID,
				MessageID: event.MessageID,
				Timestamp: time.Now().UnixMilli(),
			}); err != nil {
				log.Printf("[events] write failed, dropping subscriber: %v", err)
				return
			}
		}
	}
}
