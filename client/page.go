package client

import (
	"encoding/json"
)

// Page is the surface a remote event is applied to. Implementations bridge
// to whatever renders the tab (a real browser page, a headless driver, a
// test double). Methods that locate an element by selector return an error
// when the selector no longer resolves; the client swallows it per event.
type Page interface {
	// Navigate changes the local route.
	Navigate(path string) error

	// SetScroll moves the vertical scroll offset.
	SetScroll(y float64) error

	// Click simulates a click on the element matched by the selector and
	// shows a transient ripple at the given page coordinates.
	Click(selector string, x, y float64) error

	// SetInput sets a text field's value and dispatches whatever change
	// notification the page's own listeners expect.
	SetInput(selector, value string) error

	// ShowCursor places the remote peer's cursor indicator.
	ShowCursor(x, y float64)

	// HideCursor removes the remote cursor indicator.
	HideCursor()

	// SetPrivacyOverlay shows or hides the blocking overlay a guest sees
	// while the host is on a private page.
	SetPrivacyOverlay(active bool)

	// ApplyState handles an app-level SYNC_STATE payload.
	ApplyState(payload json.RawMessage) error
}
