package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"cobrowse/relay/internal"
)

type eventClass string

const (
	classNavigate eventClass = "navigate"
	classScroll   eventClass = "scroll"
	classClick    eventClass = "click"
	classInput    eventClass = "input"

	// cursor applies only move the indicator overlay, nothing a capture
	// listener watches, so no apply ever holds a token for this class
	classCursor eventClass = "cursor"
)

// suppressor tracks in-flight remote applies per event class. Capture for a
// class is a no-op while any token for it is held, which is what breaks the
// A -> B -> A echo loop. Tokens are counted, so overlapping remote updates
// of the same class do not race each other's release.
type suppressor struct {
	mu       sync.Mutex
	inflight map[eventClass]int
}

func newSuppressor() *suppressor {
	return &suppressor{inflight: make(map[eventClass]int)}
}

// acquire takes a token. The returned release is idempotent.
func (s *suppressor) acquire(class eventClass) func() {
	s.mu.Lock()
	s.inflight[class]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.inflight[class]--
			s.mu.Unlock()
		})
	}
}

func (s *suppressor) active(class eventClass) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[class] > 0
}

// isPrivatePath matches the configured privacy patterns by substring, the
// same matching the router-side privacy broadcast uses.
func (c *Client) isPrivatePath(path string) bool {
	for _, pattern := range c.opts.PrivatePathPatterns {
		if pattern != "" && strings.Contains(path, pattern) {
			return true
		}
	}
	return false
}

// captureAllowed runs the shared capture guards: in a session, not
// suppressed by a remote apply, and not a guest on a privacy-sensitive
// page. Events from a guest's private page never reach the host.
func (c *Client) captureAllowed(class eventClass) (string, bool) {
	if c.suppress.active(class) {
		return "", false
	}

	c.mu.Lock()
	sessionID := c.sessionID
	role := c.role
	path := c.currentPath
	c.mu.Unlock()

	if sessionID == "" {
		return "", false
	}

	if role == internal.RoleGuest && c.isPrivatePath(path) {
		return "", false
	}

	return sessionID, true
}

// CaptureClick reports a local click. Fired from the capture phase so it
// sees the event before app-level handlers do.
func (c *Client) CaptureClick(el *Element, x, y float64) {
	sessionID, ok := c.captureAllowed(classClick)
	if !ok {
		return
	}

	c.emit(internal.EventTypeClick, sessionID, internal.ClickPayload{
		Selector: el.Selector(),
		X:        x,
		Y:        y,
	})
}

// CaptureInput reports a local text field change. Password fields are never
// broadcast, resolvable selector or not.
func (c *Client) CaptureInput(el *Element, value string) {
	if el.IsPassword() {
		return
	}

	sessionID, ok := c.captureAllowed(classInput)
	if !ok {
		return
	}

	c.emit(internal.EventTypeInput, sessionID, internal.InputPayload{
		Selector: el.Selector(),
		Value:    value,
	})
}

// CaptureScroll reports the local vertical scroll offset.
func (c *Client) CaptureScroll(y float64) {
	sessionID, ok := c.captureAllowed(classScroll)
	if !ok {
		return
	}

	c.emit(internal.EventTypeScroll, sessionID, internal.ScrollPayload{Y: y})
}

// CaptureCursor reports the local pointer position, throttled.
func (c *Client) CaptureCursor(x, y float64) {
	c.mu.Lock()
	now := time.Now()
	throttled := now.Sub(c.lastCursorSent) < c.opts.CursorInterval
	if !throttled {
		c.lastCursorSent = now
	}
	c.mu.Unlock()

	if throttled {
		return
	}

	sessionID, ok := c.captureAllowed(classCursor)
	if !ok {
		return
	}

	c.emit(internal.EventTypeCursorMove, sessionID, internal.CursorPayload{X: x, Y: y})
}

// RouteChanged reports that the local route changed. Suppressed when the
// change was itself a remote-driven navigation. A host whose
// privacy-sensitivity flipped additionally broadcasts PRIVACY_TOGGLE so the
// guest can put up the blocking overlay.
func (c *Client) RouteChanged(path string) {
	c.mu.Lock()
	prev := c.currentPath
	c.currentPath = path
	role := c.role
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID == "" {
		return
	}

	wasPrivate := c.isPrivatePath(prev)
	isPrivate := c.isPrivatePath(path)

	if !c.suppress.active(classNavigate) {
		if !(role == internal.RoleGuest && isPrivate) {
			c.emit(internal.EventTypeNavigate, sessionID, internal.NavigatePayload{Path: path})
		}
	}

	if role == internal.RoleHost && wasPrivate != isPrivate {
		c.emit(internal.EventTypePrivacyToggle, sessionID, internal.PrivacyPayload{IsPrivate: isPrivate})
	}
}

// SendState broadcasts an app-level SYNC_STATE payload, e.g. a carousel
// hover. No capture guards beyond session membership: the payload is the
// app's business.
func (c *Client) SendState(payload any) error {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return c.send(context.Background(), internal.Envelope{
		Type:      internal.EventTypeSyncState,
		SessionID: sessionID,
		Payload:   b,
	})
}

func (c *Client) emit(typ internal.EventType, sessionID string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to marshal payload", slog.String("type", string(typ)))
		return
	}

	env := internal.Envelope{
		Type:      typ,
		SessionID: sessionID,
		Payload:   b,
	}

	if err := c.send(context.Background(), env); err != nil {
		c.logger.Warn("failed to send", slog.String("type", string(typ)), slog.String("reason", err.Error()))
	}
}
