//go:build windows

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"kbcheck/internal/layout"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	kernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGetKeyboardLayoutList    = user32.NewProc("GetKeyboardLayoutList")
	procGetKeyboardLayout        = user32.NewProc("GetKeyboardLayout")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procMapVirtualKeyEx          = user32.NewProc("MapVirtualKeyExW")
	procToUnicodeEx              = user32.NewProc("ToUnicodeEx")
	procVkKeyScanEx              = user32.NewProc("VkKeyScanExW")
	procPostMessage              = user32.NewProc("PostMessageW")
	procLCIDToLocaleName         = kernel32.NewProc("LCIDToLocaleName")
)

const (
	mapvkVkToVsc             = 0
	toUnicodeNoStateChange   = 0x4
	wmInputLangChangeRequest = 0x0050
	localeNameMaxLength      = 85
)

// Windows implements Host with user32 keyboard layout APIs.
type Windows struct{}

// New returns the Windows host adapter.
func New() (*Windows, error) {
	if err := procGetKeyboardLayoutList.Find(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return &Windows{}, nil
}

// EnumerateLayouts lists the installed layouts. Names are the locale name of
// the layout's language ("en-US"), suffixed with the device part of the HKL
// when it differs from the language, so that variants stay distinct.
func (w *Windows) EnumerateLayouts() ([]layout.Layout, error) {
	n, _, _ := procGetKeyboardLayoutList.Call(0, 0)
	if int32(n) <= 0 {
		return nil, nil
	}
	hkls := make([]uintptr, n)
	n, _, err := procGetKeyboardLayoutList.Call(n, uintptr(unsafe.Pointer(&hkls[0])))
	if int32(n) <= 0 {
		return nil, fmt.Errorf("GetKeyboardLayoutList: %w", err)
	}

	out := make([]layout.Layout, 0, n)
	for _, hkl := range hkls[:n] {
		out = append(out, layout.Layout{Handle: layout.Handle(hkl), Name: layoutName(hkl)})
	}
	return out, nil
}

func layoutName(hkl uintptr) string {
	lang := uint32(hkl & 0xffff)
	device := uint32((hkl >> 16) & 0xffff)

	buf := make([]uint16, localeNameMaxLength)
	n, _, _ := procLCIDToLocaleName.Call(uintptr(lang), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)), 0)
	name := fmt.Sprintf("%04x", lang)
	if n > 0 {
		name = windows.UTF16ToString(buf)
	}
	if device != lang {
		name = fmt.Sprintf("%s (%04x)", name, device)
	}
	return name
}

// ActiveLayout returns the layout of the foreground window's thread.
func (w *Windows) ActiveLayout() layout.Handle {
	var tid uintptr
	if fg, _, _ := procGetForegroundWindow.Call(); fg != 0 {
		tid, _, _ = procGetWindowThreadProcessId.Call(fg, 0)
	}
	hkl, _, _ := procGetKeyboardLayout.Call(tid)
	return layout.Handle(hkl)
}

// ScanCode implements layout.KeyMapper with MapVirtualKeyExW.
func (w *Windows) ScanCode(vk layout.VirtualKey, l layout.Handle) (layout.ScanCode, bool) {
	sc, _, _ := procMapVirtualKeyEx.Call(uintptr(vk), mapvkVkToVsc, uintptr(l))
	return layout.ScanCode(sc), sc != 0
}

// Unicode implements layout.KeyMapper with ToUnicodeEx and an all-zero key
// state. The no-state-change flag keeps pending dead keys of the user's
// real input intact.
func (w *Windows) Unicode(vk layout.VirtualKey, sc layout.ScanCode, l layout.Handle) string {
	var state [256]byte
	var buf [10]uint16
	n, _, _ := procToUnicodeEx.Call(
		uintptr(vk),
		uintptr(sc),
		uintptr(unsafe.Pointer(&state[0])),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		toUnicodeNoStateChange,
		uintptr(l),
	)
	// Negative results are dead keys: nothing is produced yet.
	if int32(n) <= 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// VirtualKey implements layout.KeyMapper with VkKeyScanExW. The shift state in
// the high byte is discarded.
func (w *Windows) VirtualKey(r rune, l layout.Handle) (layout.VirtualKey, bool) {
	if r > 0xffff {
		return 0, false
	}
	ret, _, _ := procVkKeyScanEx.Call(uintptr(r), uintptr(l))
	res := int16(ret)
	if res == -1 {
		return 0, false
	}
	return layout.VirtualKey(res & 0xff), true
}

// SwitchLayout posts WM_INPUTLANGCHANGEREQUEST to the foreground window.
func (w *Windows) SwitchLayout(h layout.Handle) error {
	fg, _, _ := procGetForegroundWindow.Call()
	if fg == 0 {
		return fmt.Errorf("no foreground window")
	}
	ret, _, err := procPostMessage.Call(fg, wmInputLangChangeRequest, 0, uintptr(h))
	if ret == 0 {
		return fmt.Errorf("PostMessageW: %w", err)
	}
	return nil
}
