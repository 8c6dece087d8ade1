// Package input provides the system-wide keyboard hook and synthetic input
// injection used by the checker.
package input

import (
	"errors"
	"time"
)

// KeyEvent is one low-level keyboard event as seen by the global hook.
type KeyEvent struct {
	// VirtualKey is the Windows virtual-key code.
	VirtualKey uint32 `json:"vk"`
	// ScanCode is the hardware scan code reported by the hook.
	ScanCode uint32 `json:"scan,omitempty"`
	// Down is true for key-down and system key-down events.
	Down bool `json:"down"`
	// Injected is set for events generated by software (SendInput and friends).
	Injected bool `json:"injected,omitempty"`
	// Layout is the keyboard layout of the foreground input context captured
	// when the event arrived, or 0 when unknown.
	Layout uintptr `json:"layout,omitempty"`
	// Window is the foreground window at the time of the event, or 0.
	Window uintptr `json:"window,omitempty"`
	// Time is when the event was observed.
	Time time.Time `json:"ts"`
}

// Hook delivers global keyboard events to a handler.
//
// The handler is called serially, in event order, on a thread the caller does
// not own, and must return promptly.
type Hook interface {
	Install(handler func(KeyEvent)) error
	Uninstall() error
}

// Injector synthesizes keyboard input into the foreground window.
type Injector interface {
	// InjectBackspaces sends n Backspace presses.
	InjectBackspaces(n int) error
	// InjectText types s as unicode input, independent of the active layout.
	InjectText(s string) error
}

// ErrUnsupported is returned on platforms without a hook or injector.
var ErrUnsupported = errors.New("keyboard hook not supported on this platform")
