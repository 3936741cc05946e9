package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"

	"cobrowse/relay/internal"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Settle delays per event class: how long after applying a remote mutation
// the matching capture class stays suppressed. The mutation itself is
// synchronous but listener chains it queues are not.
var settleDelay = map[eventClass]time.Duration{
	classNavigate: 300 * time.Millisecond,
	classScroll:   200 * time.Millisecond,
	classClick:    100 * time.Millisecond,
	classInput:    150 * time.Millisecond,
}

type Options struct {
	// URL of the relay websocket endpoint.
	URL string

	// Page receives remote events. Required.
	Page Page

	// PrivatePathPatterns marks privacy-sensitive routes by substring
	// match, e.g. "/account", "/wallet".
	PrivatePathPatterns []string

	// CursorInterval throttles outbound CURSOR_MOVE. Zero means the
	// default of 50ms.
	CursorInterval time.Duration

	Logger *slog.Logger

	// Optional notifications.
	OnSessionReady     func(sessionID string, role internal.Role)
	OnGuestJoined      func()
	OnPeerDisconnected func()
	OnDisconnect       func()
}

// Client is the per-tab session state machine: one websocket to the relay,
// local captures going out, remote events applied to the Page coming in.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	status    Status
	role      internal.Role
	sessionID string

	// last session, kept for Rejoin after a drop
	lastSessionID string

	currentPath     string
	isPrivacyActive bool
	lastCursorSent  time.Time

	suppress *suppressor
}

func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("relay url is required")
	}

	if opts.Page == nil {
		return nil, fmt.Errorf("page is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.CursorInterval == 0 {
		opts.CursorInterval = 50 * time.Millisecond
	}

	return &Client{
		opts:     opts,
		logger:   logger,
		status:   StatusDisconnected,
		suppress: newSuppressor(),
	}, nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) Role() internal.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Connect opens the relay channel. Idempotent: an already-open channel is
// reused. It resolves when the transport reports open, not when any session
// ack arrives.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		c.mu.Lock()
		c.status = StatusError
		c.mu.Unlock()
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.status = StatusConnected
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	return nil
}

// CreateSession connects if needed and asks the relay for a fresh session.
// The local role stays unset until SESSION_CREATED arrives.
func (c *Client) CreateSession(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	return c.send(ctx, internal.Envelope{Type: internal.EventTypeCreateSession})
}

// JoinSession connects if needed and joins the given session as guest. The
// relay accepts unconditionally; a dead session id only shows as silence.
func (c *Client) JoinSession(ctx context.Context, sessionID string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	return c.send(ctx, internal.Envelope{
		Type:      internal.EventTypeJoinSession,
		SessionID: sessionID,
	})
}

// Rejoin re-dials after a drop and joins the remembered session. The relay
// has no resume state, so the rejoined connection is a guest regardless of
// the previous role.
func (c *Client) Rejoin(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastSessionID
	c.mu.Unlock()

	if last == "" {
		return fmt.Errorf("no session to rejoin")
	}

	return c.JoinSession(ctx, last)
}

// EndSession closes the channel and resets local state. The relay is not
// told anything; it learns from the channel close.
func (c *Client) EndSession() {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	c.status = StatusDisconnected
	c.role = ""
	c.sessionID = ""
	c.isPrivacyActive = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}

	c.opts.Page.HideCursor()
	c.opts.Page.SetPrivacyOverlay(false)
}

func (c *Client) send(ctx context.Context, env internal.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return conn.Write(ctx, websocket.MessageText, b)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, b, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.status = StatusDisconnected
				c.role = ""
				c.sessionID = ""
			}
			c.mu.Unlock()

			c.opts.Page.HideCursor()

			if c.opts.OnDisconnect != nil && ctx.Err() == nil {
				c.opts.OnDisconnect()
			}
			return
		}

		env := internal.Envelope{}
		if err := json.Unmarshal(b, &env); err != nil {
			c.logger.Warn("dropping malformed frame", slog.String("reason", err.Error()))
			continue
		}

		c.apply(env)
	}
}

// apply dispatches one remote event onto the local page. Every mutation
// that local capture listeners watch is wrapped in an apply token so it is
// not echoed back out; PRIVACY_TOGGLE mutates nothing they watch and is
// applied bare.
func (c *Client) apply(env internal.Envelope) {
	switch env.Type {
	case internal.EventTypeSessionCreated, internal.EventTypeSessionJoined:
		ack := internal.SessionAckPayload{}
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			c.logger.Warn("dropping bad session ack", slog.String("reason", err.Error()))
			return
		}

		c.mu.Lock()
		c.role = ack.Role
		c.sessionID = ack.SessionID
		c.lastSessionID = ack.SessionID
		c.mu.Unlock()

		if c.opts.OnSessionReady != nil {
			c.opts.OnSessionReady(ack.SessionID, ack.Role)
		}

	case internal.EventTypeGuestJoined:
		if c.opts.OnGuestJoined != nil {
			c.opts.OnGuestJoined()
		}

	case internal.EventTypePeerDisconnected:
		c.opts.Page.HideCursor()
		if c.opts.OnPeerDisconnected != nil {
			c.opts.OnPeerDisconnected()
		}

	case internal.EventTypeNavigate:
		p := internal.NavigatePayload{}
		if !c.decode(env, &p) {
			return
		}

		release := c.suppress.acquire(classNavigate)
		if err := c.opts.Page.Navigate(p.Path); err != nil {
			c.logger.Warn("navigate apply failed", slog.String("reason", err.Error()))
		}
		c.mu.Lock()
		c.currentPath = p.Path
		c.mu.Unlock()
		time.AfterFunc(settleDelay[classNavigate], release)

	case internal.EventTypeScroll:
		p := internal.ScrollPayload{}
		if !c.decode(env, &p) {
			return
		}

		release := c.suppress.acquire(classScroll)
		if err := c.opts.Page.SetScroll(p.Y); err != nil {
			c.logger.Warn("scroll apply failed", slog.String("reason", err.Error()))
		}
		time.AfterFunc(settleDelay[classScroll], release)

	case internal.EventTypeCursorMove:
		p := internal.CursorPayload{}
		if !c.decode(env, &p) {
			return
		}

		c.opts.Page.ShowCursor(p.X, p.Y)

	case internal.EventTypeClick:
		p := internal.ClickPayload{}
		if !c.decode(env, &p) {
			return
		}

		release := c.suppress.acquire(classClick)
		if err := c.opts.Page.Click(p.Selector, p.X, p.Y); err != nil {
			c.logger.Warn("click apply failed", slog.String("selector", p.Selector))
		}
		time.AfterFunc(settleDelay[classClick], release)

	case internal.EventTypeInput:
		p := internal.InputPayload{}
		if !c.decode(env, &p) {
			return
		}

		release := c.suppress.acquire(classInput)
		if err := c.opts.Page.SetInput(p.Selector, p.Value); err != nil {
			c.logger.Warn("input apply failed", slog.String("selector", p.Selector))
		}
		time.AfterFunc(settleDelay[classInput], release)

	case internal.EventTypePrivacyToggle:
		p := internal.PrivacyPayload{}
		if !c.decode(env, &p) {
			return
		}

		c.mu.Lock()
		c.isPrivacyActive = p.IsPrivate
		c.mu.Unlock()

		c.opts.Page.SetPrivacyOverlay(p.IsPrivate)

	case internal.EventTypeSyncState:
		if err := c.opts.Page.ApplyState(env.Payload); err != nil {
			c.logger.Warn("state apply failed", slog.String("reason", err.Error()))
		}

	default:
		c.logger.Warn("dropping unknown frame type", slog.String("type", string(env.Type)))
	}
}

func (c *Client) decode(env internal.Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		c.logger.Warn("dropping frame", slog.String("type", string(env.Type)), slog.String("reason", err.Error()))
		return false
	}
	return true
}
