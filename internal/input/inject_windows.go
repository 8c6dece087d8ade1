//go:build windows

package input

import (
	"fmt"
	"unicode/utf16"
	"unsafe"
)

const (
	inputKeyboard     = 1
	keyeventfKeyUp    = 0x0002
	keyeventfUnicode  = 0x0004
	maxInjectedEvents = 2048
)

type keybdinput struct {
	WVk         uint16
	WScan       uint16
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

// keyboardInput mirrors INPUT with the KEYBDINPUT arm of the union. The
// trailing padding covers the larger MOUSEINPUT arm.
type keyboardInput struct {
	Type uint32
	Ki   keybdinput
	_    [8]byte
}

// SendInputInjector injects keystrokes with SendInput. Injected events carry
// LLKHF_INJECTED, so the checker's own hook ignores them.
type SendInputInjector struct{}

// NewInjector returns the Windows injector.
func NewInjector() *SendInputInjector {
	return &SendInputInjector{}
}

// InjectBackspaces sends n Backspace press/release pairs.
func (i *SendInputInjector) InjectBackspaces(n int) error {
	events := make([]keyboardInput, 0, 2*n)
	for j := 0; j < n; j++ {
		events = append(events,
			keyboardInput{Type: inputKeyboard, Ki: keybdinput{WVk: uint16(VKBack)}},
			keyboardInput{Type: inputKeyboard, Ki: keybdinput{WVk: uint16(VKBack), DwFlags: keyeventfKeyUp}},
		)
	}
	return send(events)
}

// InjectText types s as KEYEVENTF_UNICODE input.
func (i *SendInputInjector) InjectText(s string) error {
	units := utf16.Encode([]rune(s))
	events := make([]keyboardInput, 0, 2*len(units))
	for _, u := range units {
		events = append(events,
			keyboardInput{Type: inputKeyboard, Ki: keybdinput{WScan: u, DwFlags: keyeventfUnicode}},
			keyboardInput{Type: inputKeyboard, Ki: keybdinput{WScan: u, DwFlags: keyeventfUnicode | keyeventfKeyUp}},
		)
	}
	return send(events)
}

func send(events []keyboardInput) error {
	if len(events) == 0 {
		return nil
	}
	if len(events) > maxInjectedEvents {
		return fmt.Errorf("refusing to inject %d events", len(events))
	}
	n, _, err := procSendInput.Call(
		uintptr(len(events)),
		uintptr(unsafe.Pointer(&events[0])),
		unsafe.Sizeof(events[0]),
	)
	if int(n) != len(events) {
		return fmt.Errorf("SendInput injected %d of %d events: %w", n, len(events), err)
	}
	return nil
}
