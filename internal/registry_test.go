package internal

import (
	"encoding/json"
	"testing"
)

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	reg := NewSessionRegistry()

	_, chA := reg.Add("a")
	_, chB := reg.Add("b")
	_, chC := reg.Add("c")

	reg.Bind("a", "s1", RoleHost)
	reg.Bind("b", "s1", RoleGuest)
	reg.Bind("c", "s2", RoleHost)

	payload, _ := json.Marshal(NavigatePayload{Path: "/shop"})
	n := reg.Broadcast("s1", "a", Envelope{Type: EventTypeNavigate, Payload: payload})

	if n != 1 {
		t.Fatalf("expected 1 delivery, got %v", n)
	}

	select {
	case msg := <-chB:
		env := Envelope{}
		if err := json.Unmarshal(msg.Buffer, &env); err != nil {
			t.Fatal(err)
		}
		if env.Type != EventTypeNavigate {
			t.Errorf("wrong type %v", env.Type)
		}
		if env.SessionID != "" {
			t.Error("forwarded frame should not carry a session id")
		}
	default:
		t.Fatal("b received nothing")
	}

	select {
	case <-chA:
		t.Fatal("broadcast echoed back to sender")
	default:
	}

	select {
	case <-chC:
		t.Fatal("broadcast leaked into another session")
	default:
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewSessionRegistry()

	reg.Add("a")
	reg.Add("b")
	reg.Bind("a", "s1", RoleHost)
	reg.Bind("b", "s1", RoleGuest)

	if reg.SessionSize("s1") != 2 {
		t.Fatal("expected 2 members")
	}

	sessionID := reg.Remove("a")
	if sessionID != "s1" {
		t.Errorf("expected s1, got %v", sessionID)
	}

	if reg.SessionSize("s1") != 1 {
		t.Error("expected 1 member after remove")
	}

	n := reg.Broadcast("s1", "", Envelope{Type: EventTypePeerDisconnected})
	if n != 1 {
		t.Errorf("expected 1 delivery after remove, got %v", n)
	}

	if reg.Remove("a") != "" {
		t.Error("removing twice should be a no-op")
	}
}

func TestRegistryBindUnknownConnection(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Bind("nope", "s1", RoleGuest)

	if reg.SessionSize("s1") != 0 {
		t.Error("bind of unknown connection should not create a member")
	}
}

func TestNewSessionCode(t *testing.T) {
	a, err := NewSessionCode()
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewSessionCode()
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != 6 || len(b) != 6 {
		t.Errorf("unexpected code length: %v %v", a, b)
	}

	// collisions are allowed by design but vanishingly unlikely back to back
	if a == b {
		t.Errorf("two consecutive codes identical: %v", a)
	}
}
