// Package actions defines the closed set of actions a computer-use agent may
// request and dispatches them onto a display surface.
package actions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/deskrelay/internal/display"
)

// Kind names an action variant. Values match the agent's wire tags.
type Kind string

const (
	KindClick        Kind = "click"
	KindScroll       Kind = "scroll"
	KindKeypress     Kind = "keypress"
	KindType         Kind = "type"
	KindWait         Kind = "wait"
	KindScreenshot   Kind = "screenshot"
	KindUnrecognized Kind = "unrecognized"
)

// Action is one agent-issued action. The set of implementations is closed;
// anything the agent sends outside it becomes Unrecognized.
type Action interface {
	Kind() Kind
	isAction()
}

// Click moves the pointer to (X, Y) and clicks Button.
type Click struct {
	X, Y   float64
	Button string
}

// Scroll moves the pointer to (X, Y) and issues ScrollY wheel ticks.
// ScrollX is carried for logging; horizontal scrolling is not performed.
type Scroll struct {
	X, Y             float64
	ScrollX, ScrollY int
}

// Keypress sends each key in order.
type Keypress struct {
	Keys []string
}

// TypeText types Text as keystrokes.
type TypeText struct {
	Text string
}

// Wait pauses before the next screenshot.
type Wait struct{}

// Screenshot requests a capture. Capture happens every iteration anyway.
type Screenshot struct{}

// Unrecognized is an action with an unknown tag or a malformed payload.
type Unrecognized struct {
	Type   string
	Raw    json.RawMessage
	Reason string
}

func (Click) Kind() Kind        { return KindClick }
func (Scroll) Kind() Kind       { return KindScroll }
func (Keypress) Kind() Kind     { return KindKeypress }
func (TypeText) Kind() Kind     { return KindType }
func (Wait) Kind() Kind         { return KindWait }
func (Screenshot) Kind() Kind   { return KindScreenshot }
func (Unrecognized) Kind() Kind { return KindUnrecognized }

func (Click) isAction()        {}
func (Scroll) isAction()       {}
func (Keypress) isAction()     {}
func (TypeText) isAction()     {}
func (Wait) isAction()         {}
func (Screenshot) isAction()   {}
func (Unrecognized) isAction() {}

// Point returns the click position truncated toward zero.
func (c Click) Point() (int, int) {
	return int(c.X), int(c.Y)
}

// Point returns the scroll anchor truncated toward zero.
func (s Scroll) Point() (int, int) {
	return int(s.X), int(s.Y)
}

func (u Unrecognized) String() string {
	return fmt.Sprintf("unrecognized action %q: %s", u.Type, u.Reason)
}

// ButtonFor maps an agent button name to an X11 button. Unknown and empty
// names map to the left button.
func ButtonFor(name string) display.Button {
	switch name {
	case "middle":
		return display.ButtonMiddle
	case "right":
		return display.ButtonRight
	default:
		return display.ButtonLeft
	}
}

// ReturnKey is the xdotool key symbol for the Enter key.
const ReturnKey = "Return"

// NormalizeKey rewrites "enter" in any casing to ReturnKey. Other key names
// pass through unchanged.
func NormalizeKey(key string) string {
	if strings.EqualFold(key, "enter") {
		return ReturnKey
	}
	return key
}

// ScrollTicks returns the wheel button and number of ticks for a vertical
// scroll amount. Negative amounts scroll up.
func ScrollTicks(scrollY int) (display.Button, int) {
	if scrollY < 0 {
		return display.ButtonScrollUp, -scrollY
	}
	return display.ButtonScrollDown, scrollY
}
