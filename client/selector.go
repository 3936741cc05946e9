package client

import (
	"fmt"
	"strings"
)

// Element is the minimal view of a DOM node the capture side needs: enough
// ancestry to build a structural selector the peer page can resolve on its
// own, independently rendered tree.
type Element struct {
	Tag    string
	ID     string
	Type   string // input type attribute, empty for non-inputs
	Index  int    // 1-based position among the parent's children
	Parent *Element
}

// IsPassword reports whether the element is a password input. Their values
// are never broadcast.
func (e *Element) IsPassword() bool {
	return strings.EqualFold(e.Tag, "input") && strings.EqualFold(e.Type, "password")
}

// Selector resolves a stable structural selector for the element: its own
// id if it has one, else an nth-child path anchored at the nearest ancestor
// with an id, else the full nth-child path from the root. The two pages are
// assumed to render isomorphic trees; when they do not, the peer's apply
// step fails and the event is dropped there.
func (e *Element) Selector() string {
	if e.ID != "" {
		return fmt.Sprintf("#%v", e.ID)
	}

	segments := []string{}
	node := e

	for node != nil {
		if node.ID != "" {
			segments = append([]string{fmt.Sprintf("#%v", node.ID)}, segments...)
			return strings.Join(segments, " > ")
		}

		seg := strings.ToLower(node.Tag)
		if node.Parent != nil {
			seg = fmt.Sprintf("%v:nth-child(%v)", seg, node.Index)
		}

		segments = append([]string{seg}, segments...)
		node = node.Parent
	}

	return strings.Join(segments, " > ")
}
