// Package relay implements a minimal channel relay: anything published
// to it is fanned out to every consumer subscribed to that channel, over
// SSE or WebSocket. It performs no orchestration of its own.
package relay

import (
	"sync"

	"github.com/ricochet1k/driftwire/pkg/events"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID()] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	client, ok := h.clients[clientID]
	if ok {
		delete(h.clients, clientID)
	}
	h.mu.Unlock()

	if ok {
		client.Close()
	}
}

// Publish fans one channel event out to every subscribed client.
// Clients that cannot keep up are dropped.
func (h *Hub) Publish(ev events.ChannelEvent) {
	env := events.ServerEnvelope{Type: events.ServerMessageTypeEvent, Event: &ev}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.IsSubscribed(ev.Channel) {
			continue
		}
		if client.Queue(env) {
			continue
		}
		h.Unregister(client.ID())
	}
}
