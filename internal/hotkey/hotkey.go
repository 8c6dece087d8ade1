// Package hotkey matches key combinations in the global key stream.
package hotkey

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"kbcheck/internal/input"
)

// Manager handles hotkey registration and matching
type Manager struct {
	mu           sync.RWMutex
	hotkeys      []*registeredHotkey
	currentState map[string]bool // map of current keys pressed
	log          logr.Logger
}

type registeredHotkey struct {
	parts    []string // e.g., ["CTRL", "ALT", "SPACE"]
	original string
	callback func()
	fired    bool // held since the last trigger
}

// NewManager creates a new hotkey manager
func NewManager(log logr.Logger) *Manager {
	return &Manager{
		currentState: make(map[string]bool),
		log:          log,
	}
}

// Parse splits a hotkey string ("Ctrl+Alt+Space") into key names and
// checks that every part names a key.
func Parse(hotkeyStr string) ([]string, error) {
	parts := strings.Split(strings.ToUpper(hotkeyStr), "+")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch p {
		case "CONTROL":
			p = "CTRL"
		case "WINDOWS", "SUPER":
			p = "WIN"
		}
		if p == "" {
			return nil, fmt.Errorf("empty key in hotkey %q", hotkeyStr)
		}
		// Aliases such as RETURN match under the name KeyName reports.
		if vk, ok := input.KeyCode(p); ok {
			p = input.KeyName(vk)
		} else if keyCodeFor(p) == 0 {
			return nil, fmt.Errorf("unknown key %q in hotkey %q", p, hotkeyStr)
		}
		parts[i] = p
	}
	return parts, nil
}

// keyCodeFor finds the virtual key KeyName would report as name.
func keyCodeFor(name string) uint32 {
	for vk := uint32(1); vk < 0xff; vk++ {
		if input.KeyName(vk) == name {
			return vk
		}
	}
	return 0
}

// Register registers a hotkey string (e.g. "Ctrl+Alt+Space") and a callback.
// An empty string registers nothing.
func (m *Manager) Register(hotkeyStr string, callback func()) (int, error) {
	if hotkeyStr == "" {
		return 0, nil
	}

	parts, err := Parse(hotkeyStr)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.hotkeys = append(m.hotkeys, &registeredHotkey{
		parts:    parts,
		original: hotkeyStr,
		callback: callback,
	})

	return len(m.hotkeys) - 1, nil
}

// Clear removes all registered hotkeys
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = nil
}

// HandleKey feeds one keyboard event and reports whether it was the key-down
// completing a registered combination, auto-repeats included. Such an event
// belongs to the hotkey and should not be typed. Injected events are ignored.
func (m *Manager) HandleKey(ev input.KeyEvent) bool {
	if ev.Injected {
		return false
	}
	if name := input.KeyName(ev.VirtualKey); name != "" {
		return m.UpdateState(name, ev.Down)
	}
	return false
}

// UpdateState updates the internal state of a key and checks for matches.
// It returns true when key went down as part of a held combination.
func (m *Manager) UpdateState(key string, isDown bool) bool {
	m.mu.Lock()
	key = strings.ToUpper(key)
	if isDown {
		m.currentState[key] = true
	} else {
		delete(m.currentState, key)
	}
	triggered, held := m.checkMatches(key)
	m.mu.Unlock()

	for _, hk := range triggered {
		m.log.Info("Hotkey triggered", "hotkey", hk.original)
		go hk.callback()
	}
	return isDown && held
}

// checkMatches fires a hotkey once per press: auto-repeat of a held
// combination does not trigger it again. held reports whether key is part
// of a combination that is fully pressed. Callers hold m.mu.
func (m *Manager) checkMatches(key string) (triggered []*registeredHotkey, held bool) {
	for _, hk := range m.hotkeys {
		match := true
		// All parts of the hotkey must be in currentState
		for _, part := range hk.parts {
			if !m.currentState[part] {
				match = false
				break
			}
		}

		switch {
		case match && !hk.fired:
			hk.fired = true
			triggered = append(triggered, hk)
		case !match:
			hk.fired = false
		}
		if match && slices.Contains(hk.parts, key) {
			held = true
		}
	}
	return triggered, held
}
