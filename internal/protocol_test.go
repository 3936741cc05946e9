package internal

import (
	"encoding/json"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	cases := []struct {
		name    string
		typ     EventType
		payload string
		ok      bool
	}{
		{"navigate", EventTypeNavigate, `{"path":"/shop"}`, true},
		{"navigate missing path", EventTypeNavigate, `{}`, false},
		{"navigate wrong shape", EventTypeNavigate, `{"y":12}`, false},
		{"scroll", EventTypeScroll, `{"y":140.5}`, true},
		{"scroll string offset", EventTypeScroll, `{"y":"down"}`, false},
		{"cursor", EventTypeCursorMove, `{"x":10,"y":20}`, true},
		{"click", EventTypeClick, `{"selector":"#buy","x":1,"y":2}`, true},
		{"click missing selector", EventTypeClick, `{"x":1,"y":2}`, false},
		{"input", EventTypeInput, `{"selector":"#email","value":"x@y.com"}`, true},
		{"input missing selector", EventTypeInput, `{"value":"x"}`, false},
		{"privacy", EventTypePrivacyToggle, `{"isPrivate":true}`, true},
		{"privacy wrong type", EventTypePrivacyToggle, `{"isPrivate":"yes"}`, false},
		{"sync state is schemaless", EventTypeSyncState, `{"action":"hover","index":3}`, true},
		{"sync state non-object", EventTypeSyncState, `[1,2,3]`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := Envelope{Type: tc.typ, Payload: json.RawMessage(tc.payload)}
			err := ValidatePayload(env)
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestForwardable(t *testing.T) {
	for _, typ := range []EventType{
		EventTypeNavigate, EventTypeScroll, EventTypeCursorMove,
		EventTypeClick, EventTypeInput, EventTypePrivacyToggle, EventTypeSyncState,
	} {
		if !typ.Forwardable() {
			t.Errorf("%v should forward", typ)
		}
	}

	for _, typ := range []EventType{
		EventTypeCreateSession, EventTypeSessionCreated, EventTypeJoinSession,
		EventTypeSessionJoined, EventTypeGuestJoined, EventTypePeerDisconnected,
		EventType("BOGUS"),
	} {
		if typ.Forwardable() {
			t.Errorf("%v should not forward", typ)
		}
	}
}
