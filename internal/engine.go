package internal

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultStatusDelay is how long the engine waits before broadcasting a
// userStatus snapshot after a join, so that a burst of connects collapses
// into one snapshot instead of one per connection.
const defaultStatusDelay = 100 * time.Millisecond

// Broadcaster is the one capability the engine needs from the hub.
type Broadcaster interface {
	Publish(frame []byte)
}

// Session is one live connection bound to a verified username. The transport
// layer creates it through OnConnectionEstablished and must hand it back to
// OnConnectionClosed exactly once; the closed flag makes a double close
// harmless anyway.
type Session struct {
	Username  string
	CreatedAt time.Time
	closed    atomic.Bool
}

// Engine drives the presence state machine: it applies connects and
// disconnects to the table and turns the resulting transitions into broadcast
// events. Chat messages and read receipts pass straight through.
type Engine struct {
	hub         Broadcaster
	table       *PresenceTable
	statusDelay time.Duration

	mu            sync.Mutex
	statusPending bool
}

func NewEngine(hub Broadcaster, table *PresenceTable, statusDelay time.Duration) *Engine {
	if statusDelay <= 0 {
		statusDelay = defaultStatusDelay
	}
	return &Engine{hub: hub, table: table, statusDelay: statusDelay}
}

// OnConnectionEstablished registers a new connection for a verified username.
// The first connection of a user emits a join notice immediately and arms the
// deferred status snapshot; additional connections are silent.
func (e *Engine) OnConnectionEstablished(username string) *Session {
	session := &Session{Username: username, CreatedAt: time.Now()}
	if e.table.Connect(username) {
		e.hub.Publish(encodeEvent(EventMessage, SystemNotice{
			System: true,
			Text:   username + " joined",
			Ts:     time.Now().Unix(),
		}))
		e.scheduleStatusBroadcast()
	}
	return session
}

// OnConnectionClosed unregisters a connection. Closing the last connection of
// a user emits a leave notice and a fresh status snapshot right away; a
// session may be closed any number of times but only counts once.
func (e *Engine) OnConnectionClosed(session *Session) {
	if session == nil || !session.closed.CompareAndSwap(false, true) {
		return
	}
	if e.table.Disconnect(session.Username) {
		e.hub.Publish(encodeEvent(EventMessage, SystemNotice{
			System: true,
			Text:   session.Username + " left",
			Ts:     time.Now().Unix(),
		}))
		e.hub.Publish(encodeEvent(EventUserStatus, e.table.Snapshot()))
	}
}

// ChatMessage broadcasts a chat payload to everyone. The sender's identity
// comes from the session; whatever "nickname" the payload claimed is
// overwritten. Broadcast does not depend on the sender's presence state, so a
// message racing its own disconnect still goes out.
func (e *Engine) ChatMessage(session *Session, payload map[string]any) {
	if session == nil || payload == nil {
		return
	}
	payload["nickname"] = session.Username
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = time.Now().Unix()
	}
	e.hub.Publish(encodeEvent(EventMessage, payload))
}

// MessageRead broadcasts a read receipt for the given message id.
func (e *Engine) MessageRead(session *Session, msgID string) {
	if session == nil || msgID == "" {
		return
	}
	e.hub.Publish(encodeEvent(EventMessageRead, ReadReceipt{MsgID: msgID, User: session.Username}))
}

// scheduleStatusBroadcast arms a single deferred userStatus broadcast. If one
// is already pending the new join rides along with it. The timer callback
// re-reads the table so the snapshot reflects everything that happened during
// the delay, and no lock is held while waiting.
func (e *Engine) scheduleStatusBroadcast() {
	e.mu.Lock()
	if e.statusPending {
		e.mu.Unlock()
		return
	}
	e.statusPending = true
	e.mu.Unlock()

	time.AfterFunc(e.statusDelay, func() {
		e.mu.Lock()
		e.statusPending = false
		e.mu.Unlock()
		e.hub.Publish(encodeEvent(EventUserStatus, e.table.Snapshot()))
	})
}
