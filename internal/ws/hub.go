// Package ws implements the WebSocket hub that streams snapshot updates.
package ws

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/unklstewy/los-relay/internal/metrics"
)

// Hub channel buffer sizes.
const (
	broadcastBuffer = 16
	registerBuffer  = 64
)

// maxClients caps concurrent connections.
const maxClients = 500

// drainTimeout is how long the hub waits for clients to flush after shutdown.
const drainTimeout = 3 * time.Second

// Hub manages active WebSocket clients and broadcasts messages.
// All client map mutations happen exclusively in the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	count      atomic.Int64
	seq        atomic.Uint64
	last       atomic.Pointer[[]byte]
	log        *logrus.Logger
}

// NewHub creates a new Hub instance.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, registerBuffer),
		unregister: make(chan *Client, registerBuffer),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run starts the hub event loop. It exits when ctx is cancelled, after
// sending a shutdown event to every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.drainClients()
			return

		case client := <-h.register:
			if len(h.clients) >= maxClients {
				h.log.Warn("connection limit reached, dropping client")
				client.closeSend()
				continue
			}
			h.clients[client] = true
			// New clients start from the latest state.
			if last := h.last.Load(); last != nil {
				select {
				case client.send <- *last:
				default:
				}
			}
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
			}
			h.updateCount()
			h.log.WithField("total", len(h.clients)).Info("client unregistered")

		case msg := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow consumer.
					client.closeSend()
					delete(h.clients, client)
				}
			}
			h.updateCount()
		}
	}
}

func (h *Hub) updateCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.WSConnections.Set(float64(len(h.clients)))
}

// drainClients sends a shutdown event to every client and closes their
// send channels so write pumps exit after flushing.
func (h *Hub) drainClients() {
	msg, err := h.encode(EventShutdown, nil)
	if err == nil {
		for client := range h.clients {
			select {
			case client.send <- msg:
			default:
			}
		}
	}

	deadline := time.After(drainTimeout)
	for client := range h.clients {
		client.closeSend()
		select {
		case <-client.flushed:
		case <-deadline:
		}
		delete(h.clients, client)
	}
	h.updateCount()
}

// Publish assigns the next sequence id to data and broadcasts it. The
// latest message is remembered and replayed to clients that connect later.
func (h *Hub) Publish(eventType string, data any) {
	msg, err := h.encode(eventType, data)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}
	h.last.Store(&msg)

	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("broadcast channel full, dropping message")
	}
}

func (h *Hub) encode(eventType string, data any) ([]byte, error) {
	evt := Event{
		Type: eventType,
		ID:   h.seq.Add(1),
		Time: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		evt.Data = raw
	}
	return json.Marshal(evt)
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	default:
		h.log.Warn("register channel full, dropping client")
		c.closeSend()
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
