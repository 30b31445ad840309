package ws

import (
	"errors"
	"sync"
)

const broadcastQueueDepth = 256

// ErrSlowConsumer is returned by subscribers whose outbound queue is full.
var ErrSlowConsumer = errors.New("subscriber queue full")

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans event payloads out to subscribers grouped by project ID.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	projectID string
	payload   []byte
}

type subscription struct {
	projectID string
	client    Subscriber
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastQueueDepth),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for projectID, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, projectID)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.projectID]; !ok {
				h.clients[sub.projectID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.projectID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.projectID, sub.client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

// dispatch delivers msg without holding mu so a slow Send never blocks
// readers of the subscriber set.
func (h *Hub) dispatch(msg message) {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients[msg.projectID]))
	for c := range h.clients[msg.projectID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, c := range targets {
		if err := c.Send(msg.payload); err != nil {
			failed = append(failed, c)
		}
	}
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range failed {
		h.remove(msg.projectID, c)
	}
	h.mu.Unlock()
	for _, c := range failed {
		c.Close()
	}
}

// remove must be called with mu held.
func (h *Hub) remove(projectID string, client Subscriber) {
	clients, ok := h.clients[projectID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, projectID)
	}
}

// Register adds a client to a project stream.
func (h *Hub) Register(projectID string, client Subscriber) {
	select {
	case h.register <- subscription{projectID: projectID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(projectID string, client Subscriber) {
	select {
	case h.unreg <- subscription{projectID: projectID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for all subscribers of projectID. It never blocks:
// when the dispatch queue is full the payload is dropped and false returned.
func (h *Hub) Broadcast(projectID string, payload []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.broadcast <- message{projectID: projectID, payload: payload}:
		return true
	default:
		return false
	}
}

// Subscribers reports how many clients currently follow projectID.
func (h *Hub) Subscribers(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[projectID])
}

// Close stops the dispatch loop and closes every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}
