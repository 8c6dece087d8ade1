package input

import (
	"fmt"
	"strings"
)

// Virtual-key codes the checker cares about.
const (
	VKBack    uint32 = 0x08
	VKTab     uint32 = 0x09
	VKReturn  uint32 = 0x0D
	VKShift   uint32 = 0x10
	VKControl uint32 = 0x11
	VKMenu    uint32 = 0x12
	VKEscape  uint32 = 0x1B
	VKSpace   uint32 = 0x20
)

// KeyName returns the hotkey name of a virtual key ("CTRL", "A", "F5") or ""
// when the key has no name.
func KeyName(vk uint32) string {
	switch vk {
	case 0x11, 0xA2, 0xA3:
		return "CTRL"
	case 0x12, 0xA4, 0xA5:
		return "ALT"
	case 0x10, 0xA0, 0xA1:
		return "SHIFT"
	case 0x5B, 0x5C:
		return "WIN"
	case VKSpace:
		return "SPACE"
	case VKReturn:
		return "ENTER"
	case VKEscape:
		return "ESC"
	case VKBack:
		return "BACKSPACE"
	case VKTab:
		return "TAB"
	case 0x14:
		return "CAPSLOCK"
	case 0x21:
		return "PAGEUP"
	case 0x22:
		return "PAGEDOWN"
	case 0x23:
		return "END"
	case 0x24:
		return "HOME"
	case 0x25:
		return "LEFT"
	case 0x26:
		return "UP"
	case 0x27:
		return "RIGHT"
	case 0x28:
		return "DOWN"
	case 0x2D:
		return "INSERT"
	case 0x2E:
		return "DELETE"
	case 0x13:
		return "PAUSE"
	case 0x91:
		return "SCROLLLOCK"
	}

	// Letters A-Z and digits 0-9 use their ASCII code.
	if (vk >= 0x41 && vk <= 0x5A) || (vk >= 0x30 && vk <= 0x39) {
		return string(rune(vk))
	}

	// F1-F12
	if vk >= 0x70 && vk <= 0x7B {
		return fmt.Sprintf("F%d", vk-0x6F)
	}

	return ""
}

var namedKeys = map[string]uint32{
	"ENTER":     VKReturn,
	"RETURN":    VKReturn,
	"ESC":       VKEscape,
	"ESCAPE":    VKEscape,
	"TAB":       VKTab,
	"SPACE":     VKSpace,
	"BACKSPACE": VKBack,
	"CTRL":      VKControl,
	"ALT":       VKMenu,
	"SHIFT":     VKShift,
}

// KeyCode is the inverse of KeyName for configuration values. Names are case
// insensitive.
func KeyCode(name string) (uint32, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if vk, ok := namedKeys[n]; ok {
		return vk, true
	}
	if len(n) == 1 && ((n[0] >= 'A' && n[0] <= 'Z') || (n[0] >= '0' && n[0] <= '9')) {
		return uint32(n[0]), true
	}
	var f uint32
	if _, err := fmt.Sscanf(n, "F%d", &f); err == nil && f >= 1 && f <= 12 {
		return 0x6F + f, true
	}
	return 0, false
}
