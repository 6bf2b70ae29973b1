// Package live fans accepted events out to websocket observers. A single
// run-loop goroutine owns every connection write, so fan-out, pings, and
// pruning never race. Observers that miss a ping round are closed and
// removed before the next fan-out, bounding dead-connection growth.
package live

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingPeriod   = 30 * time.Second
	writeTimeout = 5 * time.Second
	// broadcastBuffer bounds queued fan-outs; overflow drops the event.
	broadcastBuffer = 64
)

// Event is the wire format pushed to observers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// client is one observer connection. alive is flipped by the pong handler
// on the connection's read goroutine and checked by the hub loop.
type client struct {
	conn  *websocket.Conn
	alive atomic.Bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the set of live observer connections.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	count      atomic.Int32
}

// NewHub creates an empty Hub. Run must be started before Handler accepts
// connections.
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		clients:    make(map[*client]bool),
	}
}

// Count returns the current number of live observers.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Broadcast serializes the event once and queues it for fan-out to every
// observer. When the queue is full the event is dropped with a log line;
// observers are a convenience, not a durability channel.
func (h *Hub) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		log.Printf("[live] marshal %s event: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[live] broadcast queue full, dropping %s event", eventType)
	}
}

// Run owns the client set until ctx is cancelled. All connection writes
// happen on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.conn.Close()
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))
			h.sendCount()

		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				c.conn.Close()
				h.count.Store(int32(len(h.clients)))
				h.sendCount()
			}

		case data := <-h.broadcast:
			h.fanOut(data)

		case <-ticker.C:
			h.pruneAndPing()
		}
	}
}

// fanOut writes one serialized event to every client, dropping clients
// whose writes fail.
func (h *Hub) fanOut(data []byte) {
	for c := range h.clients {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.clients, c)
			c.conn.Close()
		}
	}
	h.count.Store(int32(len(h.clients)))
}

// pruneAndPing closes every client that failed to pong since the previous
// probe, then pings the survivors. After pruning, the updated observer
// count is rebroadcast.
func (h *Hub) pruneAndPing() {
	pruned := false
	for c := range h.clients {
		if !c.alive.Load() {
			delete(h.clients, c)
			c.conn.Close()
			pruned = true
			continue
		}
		c.alive.Store(false)
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			delete(h.clients, c)
			c.conn.Close()
			pruned = true
		}
	}
	h.count.Store(int32(len(h.clients)))
	if pruned {
		h.sendCount()
	}
}

// sendCount fans out the current observer count. Called from the run loop.
func (h *Hub) sendCount() {
	data, err := json.Marshal(Event{
		Type:    "observers",
		Payload: map[string]int{"count": len(h.clients)},
	})
	if err != nil {
		return
	}
	h.fanOut(data)
}

// Handler upgrades an HTTP request to a websocket observer connection.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[live] websocket upgrade error: %v", err)
			return
		}

		c := &client{conn: conn}
		c.alive.Store(true)
		conn.SetPongHandler(func(string) error {
			c.alive.Store(true)
			return nil
		})

		h.register <- c

		// Observers never send application messages; the read loop exists
		// to process control frames and detect disconnects.
		go func() {
			defer func() { h.unregister <- c }()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
