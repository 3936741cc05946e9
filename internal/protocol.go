package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventTypeCreateSession    EventType = "CREATE_SESSION"
	EventTypeSessionCreated   EventType = "SESSION_CREATED"
	EventTypeJoinSession      EventType = "JOIN_SESSION"
	EventTypeSessionJoined    EventType = "SESSION_JOINED"
	EventTypeGuestJoined      EventType = "GUEST_JOINED"
	EventTypeNavigate         EventType = "NAVIGATE"
	EventTypeScroll           EventType = "SCROLL"
	EventTypeCursorMove       EventType = "CURSOR_MOVE"
	EventTypeClick            EventType = "CLICK"
	EventTypeInput            EventType = "INPUT"
	EventTypePrivacyToggle    EventType = "PRIVACY_TOGGLE"
	EventTypeSyncState        EventType = "SYNC_STATE"
	EventTypePeerDisconnected EventType = "PEER_DISCONNECTED"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Envelope is the single wire frame. SessionID rides at the top level next
// to the type tag; Payload stays raw until the type is known.
type Envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type SessionAckPayload struct {
	SessionID string `json:"sessionId"`
	Role      Role   `json:"role"`
}

type NavigatePayload struct {
	Path string `json:"path"`
}

type ScrollPayload struct {
	Y float64 `json:"y"`
}

type CursorPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type ClickPayload struct {
	Selector string  `json:"selector"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type InputPayload struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type PrivacyPayload struct {
	IsPrivate bool `json:"isPrivate"`
}

// Forwardable reports whether an event of this type is relayed verbatim to
// the rest of the sender's session.
func (t EventType) Forwardable() bool {
	switch t {
	case EventTypeNavigate, EventTypeScroll, EventTypeCursorMove,
		EventTypeClick, EventTypeInput, EventTypePrivacyToggle,
		EventTypeSyncState:
		return true
	}
	return false
}

// ValidatePayload decodes the envelope payload against the struct its type
// declares. Messages that fail here are dropped by the relay, never fatal to
// the channel. SYNC_STATE is schemaless on purpose and only has to be a
// JSON object.
func ValidatePayload(env Envelope) error {
	strict := func(v any) error {
		dec := json.NewDecoder(bytes.NewReader(env.Payload))
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	}

	switch env.Type {
	case EventTypeNavigate:
		p := NavigatePayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad NAVIGATE payload: %w", err)
		}
		if p.Path == "" {
			return fmt.Errorf("NAVIGATE payload missing path")
		}
	case EventTypeScroll:
		p := ScrollPayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad SCROLL payload: %w", err)
		}
	case EventTypeCursorMove:
		p := CursorPayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad CURSOR_MOVE payload: %w", err)
		}
	case EventTypeClick:
		p := ClickPayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad CLICK payload: %w", err)
		}
		if p.Selector == "" {
			return fmt.Errorf("CLICK payload missing selector")
		}
	case EventTypeInput:
		p := InputPayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad INPUT payload: %w", err)
		}
		if p.Selector == "" {
			return fmt.Errorf("INPUT payload missing selector")
		}
	case EventTypePrivacyToggle:
		p := PrivacyPayload{}
		if err := strict(&p); err != nil {
			return fmt.Errorf("bad PRIVACY_TOGGLE payload: %w", err)
		}
	case EventTypeSyncState:
		p := map[string]json.RawMessage{}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("bad SYNC_STATE payload: %w", err)
		}
	}

	return nil
}
