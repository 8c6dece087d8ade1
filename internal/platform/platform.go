// Package platform adapts the host keyboard layout services to the
// layout package capabilities.
package platform

import (
	"errors"

	"kbcheck/internal/layout"
)

// Host is everything the service needs from the operating system's layout
// services.
type Host interface {
	layout.Platform
	// SwitchLayout asks the foreground window to activate the layout.
	SwitchLayout(h layout.Handle) error
}

// ErrUnsupported is returned on hosts without layout services.
var ErrUnsupported = errors.New("keyboard layout services not supported on this platform")

// Unsupported is the Host for platforms without layout services. It knows
// no layouts, so a checker over it stays inert.
type Unsupported struct{}

func (Unsupported) EnumerateLayouts() ([]layout.Layout, error) { return nil, ErrUnsupported }

func (Unsupported) ActiveLayout() layout.Handle { return 0 }

func (Unsupported) ScanCode(layout.VirtualKey, layout.Handle) (layout.ScanCode, bool) {
	return 0, false
}

func (Unsupported) Unicode(layout.VirtualKey, layout.ScanCode, layout.Handle) string { return "" }

func (Unsupported) VirtualKey(rune, layout.Handle) (layout.VirtualKey, bool) { return 0, false }

func (Unsupported) SwitchLayout(layout.Handle) error { return ErrUnsupported }
