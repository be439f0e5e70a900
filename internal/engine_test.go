package internal

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureHub records published frames so engine behavior can be asserted
// without any websocket plumbing.
type captureHub struct {
	mu     sync.Mutex
	frames [][]byte
}

func (h *captureHub) Publish(frame []byte) {
	if frame == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
}

func (h *captureHub) events(t *testing.T) []Envelope {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Envelope, 0, len(h.frames))
	for _, frame := range h.frames {
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		out = append(out, envelope)
	}
	return out
}

func countNotices(t *testing.T, events []Envelope, text string) int {
	t.Helper()
	count := 0
	for _, event := range events {
		if event.Event != EventMessage {
			continue
		}
		var notice SystemNotice
		if err := json.Unmarshal(event.Data, &notice); err != nil {
			continue
		}
		if notice.System && notice.Text == text {
			count++
		}
	}
	return count
}

func lastStatus(t *testing.T, events []Envelope) map[string]string {
	t.Helper()
	var snapshot map[string]string
	for _, event := range events {
		if event.Event != EventUserStatus {
			continue
		}
		if err := json.Unmarshal(event.Data, &snapshot); err != nil {
			t.Fatalf("bad status payload: %v", err)
		}
	}
	return snapshot
}

const testStatusDelay = 20 * time.Millisecond

func newTestEngine() (*Engine, *captureHub) {
	hub := &captureHub{}
	return NewEngine(hub, NewPresenceTable(), testStatusDelay), hub
}

func waitForStatusDelay() {
	time.Sleep(testStatusDelay * 3)
}

func TestJoinEmitsNoticeThenSnapshot(t *testing.T) {
	engine, hub := newTestEngine()

	engine.OnConnectionEstablished("alice")

	events := hub.events(t)
	if countNotices(t, events, "alice joined") != 1 {
		t.Fatalf("expected an immediate join notice, got %+v", events)
	}
	if lastStatus(t, events) != nil {
		t.Fatal("status snapshot must not fire before the coalescing delay")
	}

	waitForStatusDelay()
	snapshot := lastStatus(t, hub.events(t))
	if snapshot == nil {
		t.Fatal("expected a status snapshot after the coalescing delay")
	}
	if snapshot["alice"] != StatusOnline {
		t.Fatalf("expected alice online in snapshot, got %+v", snapshot)
	}
}

func TestSecondConnectionIsSilent(t *testing.T) {
	engine, hub := newTestEngine()

	engine.OnConnectionEstablished("alice")
	engine.OnConnectionEstablished("alice")
	waitForStatusDelay()

	events := hub.events(t)
	if got := countNotices(t, events, "alice joined"); got != 1 {
		t.Fatalf("expected exactly one join notice, got %d", got)
	}
	snapshot := lastStatus(t, events)
	if snapshot["alice"] != StatusOnline {
		t.Fatalf("expected alice online once, got %+v", snapshot)
	}
}

func TestRapidJoinsCoalesceIntoOneSnapshot(t *testing.T) {
	engine, hub := newTestEngine()

	engine.OnConnectionEstablished("alice")
	engine.OnConnectionEstablished("bob")
	waitForStatusDelay()

	events := hub.events(t)
	if countNotices(t, events, "alice joined") != 1 || countNotices(t, events, "bob joined") != 1 {
		t.Fatal("each user gets their own join notice")
	}
	// Timing may split the joins across windows, so assert on the final
	// snapshot contents rather than an exact snapshot count.
	snapshot := lastStatus(t, events)
	if snapshot["alice"] != StatusOnline || snapshot["bob"] != StatusOnline {
		t.Fatalf("final snapshot must show both online, got %+v", snapshot)
	}
	statusCount := 0
	for _, event := range events {
		if event.Event == EventUserStatus {
			statusCount++
		}
	}
	if statusCount < 1 || statusCount > 2 {
		t.Fatalf("expected 1 or 2 snapshots for two rapid joins, got %d", statusCount)
	}
}

func TestLeaveOnlyOnLastDisconnect(t *testing.T) {
	engine, hub := newTestEngine()

	first := engine.OnConnectionEstablished("alice")
	second := engine.OnConnectionEstablished("alice")
	waitForStatusDelay()

	engine.OnConnectionClosed(first)
	events := hub.events(t)
	if countNotices(t, events, "alice left") != 0 {
		t.Fatal("closing one of two connections must not emit a leave notice")
	}

	engine.OnConnectionClosed(second)
	events = hub.events(t)
	if got := countNotices(t, events, "alice left"); got != 1 {
		t.Fatalf("expected exactly one leave notice, got %d", got)
	}
	snapshot := lastStatus(t, events)
	if snapshot["alice"] != StatusOffline {
		t.Fatalf("expected alice offline after last disconnect, got %+v", snapshot)
	}
}

func TestDoubleCloseEmitsNothingExtra(t *testing.T) {
	engine, hub := newTestEngine()

	session := engine.OnConnectionEstablished("alice")
	engine.OnConnectionClosed(session)
	engine.OnConnectionClosed(session)
	engine.OnConnectionClosed(nil)
	waitForStatusDelay()

	if got := countNotices(t, hub.events(t), "alice left"); got != 1 {
		t.Fatalf("expected exactly one leave notice, got %d", got)
	}
}

func TestChatMessageInjectsSenderIdentity(t *testing.T) {
	engine, hub := newTestEngine()
	session := engine.OnConnectionEstablished("alice")

	engine.ChatMessage(session, map[string]any{"text": "hi", "nickname": "mallory"})

	var payload map[string]any
	for _, event := range hub.events(t) {
		if event.Event != EventMessage {
			continue
		}
		var body map[string]any
		if err := json.Unmarshal(event.Data, &body); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if _, system := body["system"]; !system {
			payload = body
		}
	}
	if payload == nil {
		t.Fatal("expected a chat message broadcast")
	}
	if payload["nickname"] != "alice" {
		t.Fatalf("sender identity must come from the session, got %v", payload["nickname"])
	}
	if payload["text"] != "hi" {
		t.Fatalf("payload must pass through verbatim, got %v", payload["text"])
	}
}

func TestChatMessageAfterDisconnectStillBroadcasts(t *testing.T) {
	engine, hub := newTestEngine()
	session := engine.OnConnectionEstablished("alice")
	engine.OnConnectionClosed(session)

	engine.ChatMessage(session, map[string]any{"text": "late"})

	found := false
	for _, event := range hub.events(t) {
		if event.Event == EventMessage && strings.Contains(string(event.Data), `"late"`) {
			found = true
		}
	}
	if !found {
		t.Fatal("a message racing its disconnect must still go out")
	}
}

func TestMessageRead(t *testing.T) {
	engine, hub := newTestEngine()
	session := engine.OnConnectionEstablished("bob")

	engine.MessageRead(session, "msg-1")
	engine.MessageRead(session, "")

	receipts := 0
	for _, event := range hub.events(t) {
		if event.Event != EventMessageRead {
			continue
		}
		var receipt ReadReceipt
		if err := json.Unmarshal(event.Data, &receipt); err != nil {
			t.Fatalf("bad receipt: %v", err)
		}
		if receipt.MsgID != "msg-1" || receipt.User != "bob" {
			t.Fatalf("unexpected receipt: %+v", receipt)
		}
		receipts++
	}
	if receipts != 1 {
		t.Fatalf("expected one receipt, got %d", receipts)
	}
}

func TestSnapshotReflectsJoinsDuringDelay(t *testing.T) {
	engine, hub := newTestEngine()

	engine.OnConnectionEstablished("alice")
	time.Sleep(testStatusDelay / 4)
	engine.OnConnectionEstablished("bob")
	waitForStatusDelay()

	snapshot := lastStatus(t, hub.events(t))
	if snapshot["alice"] != StatusOnline || snapshot["bob"] != StatusOnline {
		t.Fatalf("snapshot must be re-read at fire time, got %+v", snapshot)
	}
}
