package internal

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 8192
	rateLimitWindow = 3 * time.Second
	rateLimitBurst  = 5
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client wraps a single websocket connection with its verified session and a
// buffered send queue the hub delivers into.
//
// The send channel has two writers: the hub's run loop and the client's own
// read goroutine (sender-only notices). The hub is also the closer, so every
// out-of-loop write and the close itself go through mu; without that a notice
// racing the slow-client drop would be a send on a closed channel.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	session      *Session
	messageTimes []time.Time

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, session *Session) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		session:      session,
		messageTimes: make([]time.Time, 0, rateLimitBurst),
	}
}

// ServeWS authenticates the handshake and upgrades the connection. The token
// comes from the "token" query parameter or a Bearer header; a connection that
// fails verification is refused before it touches any presence state.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	username, err := s.tokens.Verify(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	session := s.engine.OnConnectionEstablished(username)
	client := newClient(s.hub, conn, session)
	s.hub.register <- client
	s.metrics.IncConn()

	go client.writePump()
	go client.readPump(s.engine, s.metrics)
}

func (client *Client) readPump(engine *Engine, metrics *Metrics) {
	// Cleanup must run no matter how the connection dies: unregister from the
	// hub, close the socket, and apply the presence disconnect.
	defer func() {
		client.hub.unregister <- client
		client.conn.Close()
		engine.OnConnectionClosed(client.session)
		metrics.DecConn()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// normal close or read error, the deferred cleanup takes over
			break
		}
		client.handleFrame(engine, payload)
	}
}

// handleFrame dispatches one inbound frame. Malformed frames are dropped and
// reported back to the sender only; they are never broadcast.
func (client *Client) handleFrame(engine *Engine, payload []byte) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		client.notifySender("Could not parse that message.")
		return
	}
	switch envelope.Event {
	case EventChatMessage:
		var msg map[string]any
		if err := json.Unmarshal(envelope.Data, &msg); err != nil || msg == nil {
			client.notifySender("Chat messages must be JSON objects.")
			return
		}
		now := time.Now()
		if !client.allowMessage(now) {
			client.notifySender("You're sending messages too quickly. Please wait a moment and try again.")
			return
		}
		engine.ChatMessage(client.session, msg)
	case EventMessageRead:
		var msgID string
		if err := json.Unmarshal(envelope.Data, &msgID); err != nil || msgID == "" {
			client.notifySender("Read receipts need a message id.")
			return
		}
		engine.MessageRead(client.session, msgID)
	default:
		client.notifySender("Unknown event: " + envelope.Event)
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// message rate limiting, per connection

func (client *Client) allowMessage(now time.Time) bool {
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}

// notifySender queues a system notice for this client only. Dropped if its
// send buffer is full or the hub has already closed the queue.
func (client *Client) notifySender(text string) {
	frame := encodeEvent(EventMessage, SystemNotice{System: true, Text: text, Ts: time.Now().Unix()})
	if frame == nil {
		return
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	select {
	case client.send <- frame:
	default:
	}
}

// closeSend closes the send queue exactly once. Only the hub calls this.
func (client *Client) closeSend() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	client.closed = true
	close(client.send)
}
