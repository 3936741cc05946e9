package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"
)

const defaultWaitTime = 100 * time.Millisecond

func newRelay(t *testing.T) *httptest.Server {
	t.Helper()

	router := Main(slog.Default(), "test-instance", nil)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return server
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	})

	return conn
}

func write(t *testing.T, ctx context.Context, conn *websocket.Conn, env Envelope) {
	t.Helper()

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}

	env := Envelope{}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatal(err)
	}

	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if _, b, err := conn.Read(ctx); err == nil {
		t.Fatalf("expected no message, got %s", b)
	}
}

func createSession(t *testing.T, ctx context.Context, conn *websocket.Conn) string {
	t.Helper()

	write(t, ctx, conn, Envelope{Type: EventTypeCreateSession})

	env := read(t, conn)
	if env.Type != EventTypeSessionCreated {
		t.Fatalf("expected SESSION_CREATED, got %v", env.Type)
	}

	ack := SessionAckPayload{}
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}

	if ack.SessionID == "" {
		t.Fatal("empty session id")
	}

	if ack.Role != RoleHost {
		t.Fatalf("expected host, got %v", ack.Role)
	}

	return ack.SessionID
}

func joinSession(t *testing.T, ctx context.Context, conn *websocket.Conn, sessionID string) {
	t.Helper()

	write(t, ctx, conn, Envelope{Type: EventTypeJoinSession, SessionID: sessionID})

	env := read(t, conn)
	if env.Type != EventTypeSessionJoined {
		t.Fatalf("expected SESSION_JOINED, got %v", env.Type)
	}

	ack := SessionAckPayload{}
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		t.Fatal(err)
	}

	if ack.SessionID != sessionID {
		t.Fatalf("joined %v, wanted %v", ack.SessionID, sessionID)
	}

	if ack.Role != RoleGuest {
		t.Fatalf("expected guest, got %v", ack.Role)
	}
}

func TestHealth(t *testing.T) {
	server := newRelay(t)

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}

	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("unexpected status %v", resp.StatusCode)
	}

	if resp.Header.Get("Instance-ID") != "test-instance" {
		t.Error("missing instance header")
	}
}

func TestCreateSession(t *testing.T) {
	server := newRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := dial(t, ctx, server.URL)
	b := dial(t, ctx, server.URL)

	sessA := createSession(t, ctx, a)
	sessB := createSession(t, ctx, b)

	if sessA == sessB {
		t.Errorf("consecutive creates yielded the same session id %v", sessA)
	}
}

func TestJoinUnknownSessionSucceeds(t *testing.T) {
	server := newRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// nobody ever created abc123; the relay does not care
	b := dial(t, ctx, server.URL)
	joinSession(t, ctx, b, "abc123")
}

func TestRelayBroadcast(t *testing.T) {
	server := newRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := dial(t, ctx, server.URL)
	sessionID := createSession(t, ctx, a)

	b := dial(t, ctx, server.URL)
	joinSession(t, ctx, b, sessionID)

	env := read(t, a)
	if env.Type != EventTypeGuestJoined {
		t.Fatalf("host expected GUEST_JOINED, got %v", env.Type)
	}

	// unrelated session that must see none of this
	other := dial(t, ctx, server.URL)
	createSession(t, ctx, other)

	payload, _ := json.Marshal(NavigatePayload{Path: "/shop"})
	write(t, ctx, a, Envelope{Type: EventTypeNavigate, SessionID: sessionID, Payload: payload})

	env = read(t, b)
	if env.Type != EventTypeNavigate {
		t.Fatalf("guest expected NAVIGATE, got %v", env.Type)
	}

	nav := NavigatePayload{}
	if err := json.Unmarshal(env.Payload, &nav); err != nil {
		t.Fatal(err)
	}

	if nav.Path != "/shop" {
		t.Errorf("wrong path %v", nav.Path)
	}

	expectSilence(t, a)
	expectSilence(t, other)
}

func TestMalformedFramesDropped(t *testing.T) {
	server := newRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := dial(t, ctx, server.URL)
	sessionID := createSession(t, ctx, a)

	b := dial(t, ctx, server.URL)
	joinSession(t, ctx, b, sessionID)
	read(t, a) // GUEST_JOINED

	// non-JSON frame
	if err := a.Write(ctx, websocket.MessageText, []byte("not json at all")); err != nil {
		t.Fatal(err)
	}

	// unknown type
	write(t, ctx, a, Envelope{Type: EventType("TELEPORT"), SessionID: sessionID})

	// declared type with mismatched payload
	write(t, ctx, a, Envelope{
		Type:      EventTypeScroll,
		SessionID: sessionID,
		Payload:   json.RawMessage(`{"y":"way down"}`),
	})

	// forwardable type with no session id
	payload, _ := json.Marshal(ScrollPayload{Y: 10})
	write(t, ctx, a, Envelope{Type: EventTypeScroll, Payload: payload})

	// the channel survived all of it; the first thing b sees is the one
	// valid frame, everything above was dropped
	payload, _ = json.Marshal(ScrollPayload{Y: 42})
	write(t, ctx, a, Envelope{Type: EventTypeScroll, SessionID: sessionID, Payload: payload})

	env := read(t, b)
	if env.Type != EventTypeScroll {
		t.Fatalf("expected SCROLL after junk, got %v", env.Type)
	}

	scroll := ScrollPayload{}
	if err := json.Unmarshal(env.Payload, &scroll); err != nil {
		t.Fatal(err)
	}

	if scroll.Y != 42 {
		t.Errorf("junk frame leaked through, got offset %v", scroll.Y)
	}
}

func TestPeerDisconnected(t *testing.T) {
	server := newRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := dial(t, ctx, server.URL)
	sessionID := createSession(t, ctx, a)

	b := dial(t, ctx, server.URL)
	joinSession(t, ctx, b, sessionID)
	read(t, a) // GUEST_JOINED

	if err := b.Close(websocket.StatusNormalClosure, "bye"); err != nil &&
		!strings.Contains(err.Error(), "already") {
		t.Fatal(err)
	}

	env := read(t, a)
	if env.Type != EventTypePeerDisconnected {
		t.Fatalf("expected PEER_DISCONNECTED, got %v", env.Type)
	}

	time.Sleep(defaultWaitTime)

	// the closed connection is gone; broadcasts no longer count it
	payload, _ := json.Marshal(CursorPayload{X: 1, Y: 2})
	write(t, ctx, a, Envelope{Type: EventTypeCursorMove, SessionID: sessionID, Payload: payload})

	expectSilence(t, a)
}
