// Package layout provides the keyboard layout registry and the cross-layout
// character re-mapping used to detect text typed in the wrong layout.
//
// Everything here is pure, in-memory logic. The operating system is reached
// only through the Enumerator, ActiveReader and KeyMapper capabilities, which
// the platform package implements for Windows and the layouttest package
// implements with static tables.
package layout

import "errors"

// Handle identifies an installed keyboard layout (an HKL on Windows).
type Handle uintptr

// VirtualKey is a logical key code independent of the physical position.
type VirtualKey uint32

// ScanCode is the hardware key code a virtual key maps to under a layout.
type ScanCode uint32

// Layout pairs a layout handle with its human readable name.
type Layout struct {
	Handle Handle `json:"handle"`
	Name   string `json:"name"`
}

// Enumerator lists the layouts installed on the host.
type Enumerator interface {
	EnumerateLayouts() ([]Layout, error)
}

// ActiveReader reports the layout of the foreground input context.
// Implementations must query the OS every call.
type ActiveReader interface {
	ActiveLayout() Handle
}

// KeyMapper is the OS key-mapping primitive set the Translator is built on.
type KeyMapper interface {
	// ScanCode maps a virtual key to a scan code under the layout.
	ScanCode(vk VirtualKey, l Handle) (ScanCode, bool)
	// Unicode returns the text the key produces with an empty modifier
	// state, or "" when it produces nothing.
	Unicode(vk VirtualKey, sc ScanCode, l Handle) string
	// VirtualKey returns the key that types r under the layout. The bool is
	// false when r is not reachable in that layout.
	VirtualKey(r rune, l Handle) (VirtualKey, bool)
}

// Platform is the full capability set a host adapter supplies.
type Platform interface {
	Enumerator
	ActiveReader
	KeyMapper
}

// ErrNoLayouts is returned by Load when the host reports no layouts. The
// returned registry is still usable; it simply never yields candidates.
var ErrNoLayouts = errors.New("no keyboard layouts found")
