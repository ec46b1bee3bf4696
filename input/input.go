// Package input provides human input, such as a keyboard, as a stream of control events.
package input

import (
	"context"
	"time"
)

// Controller is a logical container of controls, a keyboard for example.
type Controller interface {
	// Controls returns the controls provided by the Controller.
	Controls(ctx context.Context) ([]Control, error)

	// Events returns the most recent Event for each control (which should be the current state).
	Events(ctx context.Context) (map[Control]Event, error)

	// RegisterControlCallback registers a callback that will fire on the given EventTypes for a
	// control.
	RegisterControlCallback(ctx context.Context, control Control, triggers []EventType, ctrlFunc ControlFunction) error
}

// ControlFunction is a callback passed to RegisterControlCallback.
type ControlFunction func(ctx context.Context, ev Event)

// EventType represents the type of input event.
type EventType string

// EventType list.
const (
	// Callbacks registered for this event will be called in ADDITION to other registered event callbacks.
	AllEvents EventType = "AllEvents"
	// Sent at controller initialization.
	Connect EventType = "Connect"
	// Sent when the controller input ends.
	Disconnect EventType = "Disconnect"
	// Typical key press.
	ButtonPress EventType = "ButtonPress"
	// Key release.
	ButtonRelease EventType = "ButtonRelease"
	// Both up and down for convenience during registration, not typically emitted.
	ButtonChange EventType = "ButtonChange"
)

// Control identifies an input of a controller. Keyboard keys are named by the character they
// produce, folded to lower case.
type Control string

// Named keys.
const (
	KeyEscape    Control = "Esc"
	KeyInterrupt Control = "Ctrl-C"
	KeyEnter     Control = "Enter"
	KeySpace     Control = "Space"
)

// Event is passed to the registered ControlFunction or returned by Events.
type Event struct {
	Time    time.Time
	Event   EventType
	Control Control
	Value   float64 // 0 or 1 for buttons
}

// Triggerable lets code outside the controller inject events, as if they came from the device.
type Triggerable interface {
	TriggerEvent(ctx context.Context, event Event) error
}

// Matches reports whether a callback registered for trigger should fire for ev.
func Matches(trigger EventType, ev Event) bool {
	switch trigger {
	case AllEvents:
		return true
	case ButtonChange:
		return ev.Event == ButtonPress || ev.Event == ButtonRelease
	default:
		return trigger == ev.Event
	}
}
