package internal

import "sync"

// Hub owns the set of connected clients and fans every published frame out to
// all of them. There is exactly one hub per server; wavechat is a single
// global room.
//
// Frames flow through a buffered channel and are delivered by the run loop in
// arrival order, so each recipient sees frames in publish order. Ordering
// across recipients is not defined, and a client that disconnects while a
// broadcast is in flight is simply skipped.
type Hub struct {
	mutex      sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	metrics    *Metrics
}

func NewHub(metrics *Metrics) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		metrics:    metrics,
	}
}

// Publish queues a frame for delivery to every currently connected client.
// Nil frames (failed encodes) are dropped.
func (hub *Hub) Publish(frame []byte) {
	if frame == nil {
		return
	}
	hub.broadcast <- frame
}

// Size returns the number of connected clients.
func (hub *Hub) Size() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.clients)
}

// Run is the hub's event loop. Call it in its own goroutine.
func (hub *Hub) Run() {
	for {
		select {
		case client := <-hub.register:
			hub.mutex.Lock()
			hub.clients[client] = true
			hub.mutex.Unlock()
		case client := <-hub.unregister:
			hub.mutex.Lock()
			if _, exists := hub.clients[client]; exists {
				delete(hub.clients, client)
				client.closeSend()
			}
			hub.mutex.Unlock()
		case frame := <-hub.broadcast:
			// Fan out to every connected client. If a client's send buffer is
			// full we drop the connection to avoid backpressure on the hub;
			// writePump notices the closed channel and tears the socket down.
			hub.mutex.Lock()
			for client := range hub.clients {
				select {
				case client.send <- frame:
				default:
					client.closeSend()
					delete(hub.clients, client)
				}
			}
			hub.mutex.Unlock()
			if hub.metrics != nil {
				hub.metrics.IncBroadcast()
			}
		}
	}
}
