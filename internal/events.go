package internal

import "encoding/json"

// Event names shared by the server and the client. Every websocket frame is a
// JSON envelope carrying one of these in its "event" field.
const (
	EventMessage     = "message"
	EventMessageRead = "messageRead"
	EventUserStatus  = "userStatus"
	EventChatMessage = "chatMessage"
)

// User status values as they appear inside a userStatus payload.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope is the outer shape of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// SystemNotice is a server-generated message, e.g. "alice joined".
type SystemNotice struct {
	System bool   `json:"system"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts,omitempty"`
}

// ReadReceipt tells everyone that a user has read a particular message.
type ReadReceipt struct {
	MsgID string `json:"msgId"`
	User  string `json:"user"`
}

// encodeEvent wraps a payload in an Envelope and marshals the whole frame.
// Payloads are plain maps and structs, so the only realistic marshal failure
// is a programming error; callers treat a nil return as "skip this frame".
func encodeEvent(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return frame
}
