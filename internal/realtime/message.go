// Package realtime fans session events out to connected staff dashboards and
// end-user clients.
package realtime

import (
	"encoding/json"
	"time"
)

// Message types on the wire.
const (
	TypeConnectionEstablished = "connection_established"
	TypeUserStatus            = "user_status"
	TypeSessionUpdate         = "session_update"
	TypeControlMessage        = "control_message"
	TypeBroadcast             = "broadcast"
	TypeDeviceMetadata        = "device_metadata"
	TypeUserActivity          = "user_activity"
	TypeSessionStarted        = "session_started"
	TypePageView              = "page_view"
	TypeCommand               = "command"
	TypeVerifiedData          = "verified_data"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Events carried by session_update messages.
const (
	EventSessionCreated  = "session_created"
	EventSessionUpdated  = "session_updated"
	EventSessionDeleted  = "session_deleted"
	EventUserSubmitted   = "user_submitted"
	EventStaleSubmission = "stale_submission"
)

// Commands sent to the end user.
const (
	CommandAccept                = "accept"
	CommandReject                = "reject"
	CommandNavigate              = "navigate"
	CommandSessionEnded          = "session_ended"
	CommandVerificationFailed    = "verification_failed"
	CommandVerificationCompleted = "verification_completed"
)

// Message is one envelope. On the wire the payload keys sit next to type,
// session_id and timestamp: {"type": "...", "session_id": "...", ...payload}.
type Message struct {
	Type      string
	SessionID string
	Timestamp time.Time
	Payload   map[string]any
}

// NewMessage builds a message stamped with the current UTC time.
func NewMessage(typ, sessionID string, payload map[string]any) Message {
	return Message{Type: typ, SessionID: sessionID, Timestamp: time.Now().UTC(), Payload: payload}
}

// Get returns a payload value.
func (m Message) Get(key string) any {
	if m.Payload == nil {
		return nil
	}
	return m.Payload[key]
}

// StringField returns a payload value as a string, or "".
func (m Message) StringField(key string) string {
	s, _ := m.Get(key).(string)
	return s
}

// MarshalJSON flattens the payload into the envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+3)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = m.Type
	if m.SessionID != "" {
		out["session_id"] = m.SessionID
	}
	if !m.Timestamp.IsZero() {
		out["timestamp"] = m.Timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the envelope fields from the payload.
func (m *Message) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var msg Message
	if v, ok := raw["type"].(string); ok {
		msg.Type = v
	}
	if v, ok := raw["session_id"].(string); ok {
		msg.SessionID = v
	}
	if v, ok := raw["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.Timestamp = ts
		}
	}
	delete(raw, "type")
	delete(raw, "session_id")
	delete(raw, "timestamp")
	if len(raw) > 0 {
		msg.Payload = raw
	}
	*m = msg
	return nil
}
