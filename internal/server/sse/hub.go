// Package sse broadcasts capture-session progress to connected UI clients.
package sse

import (
	"encoding/json"
	"sync"

	"face-gate-go/internal/session"

	log "github.com/sirupsen/logrus"
)

// Client is a single connected SSE subscriber.
type Client chan []byte

// Hub tracks the set of active clients and fans session events out to them.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan []byte
	register   chan Client
	unregister chan Client
	mu         sync.Mutex
}

// NewHub creates a hub. Run must be started in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan []byte, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
	}
}

// Run is the hub's processing loop.
func (h *Hub) Run() {
	log.Info("SSE hub started")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Infof("SSE client registered. Total clients: %d", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
				log.Infof("SSE client unregistered. Total clients: %d", len(h.clients))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- message:
				default:
					// Slow consumer; drop it rather than stalling the hub.
					log.Warn("SSE client channel full, removing client")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client Client) {
	h.unregister <- client
}

// Broadcast queues a raw message for all clients without blocking.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		log.Warn("SSE broadcast channel full, message dropped")
	}
}

// SessionEvent implements session.Notifier: progress and results go straight
// to the connected UI clients.
func (h *Hub) SessionEvent(event session.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("Failed to marshal session event for SSE: %v", err)
		return
	}
	h.Broadcast(data)
}
