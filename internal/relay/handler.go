package relay

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ricochet1k/driftwire/pkg/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	hub *Hub
	log *zap.Logger
}

func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: hub, log: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/v1/channels/publish", h.publish)
	r.Get("/v1/channels/stream", h.sseStream)
	r.Get("/v1/channels/ws", h.realtimeWebSocket)
	return r
}

func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	var ev events.ChannelEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if ev.Channel == "" || ev.Type == "" {
		writeError(w, http.StatusBadRequest, "channel and type are required")
		return
	}

	h.hub.Publish(ev)
	h.log.Debug("event published",
		zap.String("channel", ev.Channel),
		zap.String("type", ev.Type))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

// sseStream streams every published event as Server-Sent Events. The
// client is registered before headers are flushed so no events are lost
// between the 200 and the first broadcast.
func (h *Handler) sseStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	client := NewClient(uuid.NewString())
	client.Subscribe([]string{"*"})
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Debug("sse client connected", zap.String("client_id", client.ID()))

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.Events():
			if env.Event == nil {
				continue
			}
			if err := writeSSEEvent(w, *env.Event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent serialises one channel event in the SSE wire format:
//
//	event: <type>\n
//	data: <json>\n
//	\n
func writeSSEEvent(w http.ResponseWriter, ev events.ChannelEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (h *Handler) realtimeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := NewClient(uuid.NewString())
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID())

	h.log.Debug("ws client connected", zap.String("client_id", client.ID()))

	// closing the socket here unblocks the read loop when the hub drops
	// the client
	go func() {
		defer conn.Close()
		for {
			select {
			case <-client.Done():
				return
			case env := <-client.Events():
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg events.ClientEnvelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.sendClientError(client, "invalid message")
			continue
		}

		switch msg.Type {
		case events.ClientMessageTypeSubscribe:
			client.Subscribe(msg.Channels)
		case events.ClientMessageTypeUnsubscribe:
			client.Unsubscribe(msg.Channels)
		case events.ClientMessageTypePing:
			if !client.Queue(events.ServerEnvelope{Type: events.ServerMessageTypePong}) {
				return
			}
		default:
			h.sendClientError(client, "unsupported message type")
		}
	}
}

func (h *Handler) sendClientError(client *Client, message string) {
	if !client.Queue(events.ServerEnvelope{
		Type:    events.ServerMessageTypeError,
		Message: message,
	}) {
		h.hub.Unregister(client.ID())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
