package internal

// Outbound is one frame queued for delivery to a connection. The write pump
// owns the socket; Drop tells it to close instead of write.
type Outbound struct {
	Drop   bool
	Buffer []byte
}

// Connection is the registry entry for one live socket. The send channel is
// consumed by exactly one writer goroutine, which is what preserves
// per-sender frame order to each recipient.
type Connection struct {
	ID        string
	SessionID string
	Role      Role
	send      chan Outbound
}
