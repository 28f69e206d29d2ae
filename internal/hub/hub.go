// Package hub keeps the live websocket connections of every room. It knows
// nothing about room logic, so connections survive room actors hibernating.
package hub

import (
	"sync"

	"github.com/weiawesome/wes-io-live/collab-service/internal/room"
	"github.com/weiawesome/wes-io-live/collab-service/pkg/log"
)

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client // room key -> client id -> client
	count int
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Client)}
}

// Attach adds client to the room key.
func (h *Hub) Attach(key string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[key]
	if !ok {
		clients = make(map[string]*Client)
		h.rooms[key] = clients
	}
	if _, exists := clients[client.ID()]; !exists {
		clients[client.ID()] = client
		h.count++
	}

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID()).Str("room_key", key).Msg("client attached")
}

// Detach removes client from the room key.
func (h *Hub) Detach(key string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.rooms[key]; ok {
		if _, exists := clients[client.ID()]; exists {
			delete(clients, client.ID())
			h.count--
		}
		if len(clients) == 0 {
			delete(h.rooms, key)
		}
	}

	l := log.L()
	l.Debug().Str(log.FieldConnID, client.ID()).Str("room_key", key).Msg("client detached")
}

// Connections returns the clients attached to key.
func (h *Hub) Connections(key string) []room.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.rooms[key]
	out := make([]room.Conn, 0, len(clients))
	for _, c := range clients {
		out = append(out, c)
	}
	return out
}

// Count returns the total number of attached clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Rooms returns the number of room keys with at least one client.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// CloseAll closes every attached client. Each client's write pump sends a
// close frame, and its read pump then detaches it through the usual path.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	clients := make([]*Client, 0, h.count)
	for _, members := range h.rooms {
		for _, c := range members {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
	return len(clients)
}
