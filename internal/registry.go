package internal

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"sync"
)

const sendBuffer = 32

// SessionRegistry tracks every open connection and which session each one
// belongs to. Sessions are implicit: the set of connections sharing a
// session id, derived by scan, never stored as their own record. A single
// registry is owned by the accept handler; a server restart drops
// everything.
type SessionRegistry struct {
	lock        sync.RWMutex
	connections map[string]*Connection
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		connections: make(map[string]*Connection),
	}
}

// Add registers a connection with no session yet. The returned receive side
// of the send queue belongs to the connection's write pump.
func (reg *SessionRegistry) Add(id string) (*Connection, <-chan Outbound) {
	conn := &Connection{
		ID:   id,
		send: make(chan Outbound, sendBuffer),
	}

	reg.lock.Lock()
	reg.connections[id] = conn
	reg.lock.Unlock()

	return conn, conn.send
}

// Bind tags a connection with a session and role. Join is unconditional:
// no check that a host exists or that the session is free. The session id
// itself is the only secret.
func (reg *SessionRegistry) Bind(id, sessionID string, role Role) {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	conn, ok := reg.connections[id]
	if !ok {
		return
	}

	conn.SessionID = sessionID
	conn.Role = role
}

// Remove drops the connection and reports the session it was in, so the
// caller can notify the remaining members.
func (reg *SessionRegistry) Remove(id string) string {
	reg.lock.Lock()
	defer reg.lock.Unlock()

	conn, ok := reg.connections[id]
	if !ok {
		return ""
	}

	delete(reg.connections, id)
	close(conn.send)

	return conn.SessionID
}

// Broadcast queues a frame for every member of the session except the
// sender. A member whose queue is full is skipped; a lost frame is lost
// forever, there is no retry.
func (reg *SessionRegistry) Broadcast(sessionID, exceptID string, env Envelope) int {
	if sessionID == "" {
		return 0
	}

	b, err := json.Marshal(env)
	if err != nil {
		return 0
	}

	reg.lock.RLock()
	defer reg.lock.RUnlock()

	n := 0
	for _, conn := range reg.connections {
		if conn.SessionID != sessionID || conn.ID == exceptID {
			continue
		}

		select {
		case conn.send <- Outbound{Buffer: b}:
			n++
		default:
		}
	}

	return n
}

// Send queues a frame for one connection only, used for the session acks.
func (reg *SessionRegistry) Send(id string, env Envelope) bool {
	b, err := json.Marshal(env)
	if err != nil {
		return false
	}

	reg.lock.RLock()
	defer reg.lock.RUnlock()

	conn, ok := reg.connections[id]
	if !ok {
		return false
	}

	select {
	case conn.send <- Outbound{Buffer: b}:
		return true
	default:
		return false
	}
}

// SessionSize counts current members of a session.
func (reg *SessionRegistry) SessionSize(sessionID string) int {
	reg.lock.RLock()
	defer reg.lock.RUnlock()

	n := 0
	for _, conn := range reg.connections {
		if conn.SessionID == sessionID {
			n++
		}
	}

	return n
}

const sessionCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewSessionCode returns a short shareable code. Low entropy on purpose,
// collisions are possible and accepted.
func NewSessionCode() (string, error) {
	code := make([]byte, 6)
	max := big.NewInt(int64(len(sessionCodeAlphabet)))

	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = sessionCodeAlphabet[n.Int64()]
	}

	return string(code), nil
}
