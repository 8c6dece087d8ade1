package hotkey

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbcheck/internal/input"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Ctrl+Alt+Space", []string{"CTRL", "ALT", "SPACE"}},
		{"control + shift + a", []string{"CTRL", "SHIFT", "A"}},
		{"Win+Return", []string{"WIN", "ENTER"}},
		{"Ctrl+Alt+Backspace", []string{"CTRL", "ALT", "BACKSPACE"}},
		{"Alt+F4", []string{"ALT", "F4"}},
		{"Ctrl+PageUp", []string{"CTRL", "PAGEUP"}},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"Ctrl+", "Ctrl+Hyper", "+A"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func press(m *Manager, vks ...uint32) {
	for _, vk := range vks {
		m.HandleKey(input.KeyEvent{VirtualKey: vk, Down: true})
	}
}

func release(m *Manager, vks ...uint32) {
	for _, vk := range vks {
		m.HandleKey(input.KeyEvent{VirtualKey: vk})
	}
}

const (
	vkLControl = 0xA2
	vkLMenu    = 0xA4
)

func TestHotkeyTriggersOncePerPress(t *testing.T) {
	m := NewManager(logr.Discard())
	var hits atomic.Int32
	_, err := m.Register("Ctrl+Alt+Space", func() { hits.Add(1) })
	require.NoError(t, err)

	press(m, vkLControl, vkLMenu, input.VKSpace)
	// Auto-repeat of the held key.
	press(m, input.VKSpace, input.VKSpace)
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)

	release(m, input.VKSpace)
	press(m, input.VKSpace)
	require.Eventually(t, func() bool { return hits.Load() == 2 }, time.Second, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHotkeyNeedsEveryPart(t *testing.T) {
	m := NewManager(logr.Discard())
	var hits atomic.Int32
	_, err := m.Register("Ctrl+Alt+P", func() { hits.Add(1) })
	require.NoError(t, err)

	press(m, vkLControl, 'P')
	release(m, 'P', vkLControl)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, hits.Load())
}

func TestHotkeyIgnoresInjectedEvents(t *testing.T) {
	m := NewManager(logr.Discard())
	var hits atomic.Int32
	_, err := m.Register("Ctrl+A", func() { hits.Add(1) })
	require.NoError(t, err)

	for _, vk := range []uint32{vkLControl, 'A'} {
		m.HandleKey(input.KeyEvent{VirtualKey: vk, Down: true, Injected: true})
	}
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, hits.Load())
}

func TestRegisterAndClear(t *testing.T) {
	m := NewManager(logr.Discard())

	id, err := m.Register("", func() {})
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = m.Register("Ctrl+Nope", func() {})
	assert.Error(t, err)

	var hits atomic.Int32
	id, err = m.Register("Ctrl+B", func() { hits.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	m.Clear()
	press(m, vkLControl, 'B')
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, hits.Load())
}

func TestHandleKeyReportsChordKeys(t *testing.T) {
	m := NewManager(logr.Discard())
	_, err := m.Register("Ctrl+Alt+Space", func() {})
	require.NoError(t, err)

	down := func(vk uint32) bool { return m.HandleKey(input.KeyEvent{VirtualKey: vk, Down: true}) }
	up := func(vk uint32) bool { return m.HandleKey(input.KeyEvent{VirtualKey: vk}) }

	assert.False(t, down(input.VKSpace), "space alone is typed")
	assert.False(t, up(input.VKSpace))

	assert.False(t, down(vkLControl))
	assert.False(t, down(vkLMenu))
	assert.True(t, down(input.VKSpace), "space completes the chord")
	assert.True(t, down(input.VKSpace), "auto-repeat of the chord")
	assert.False(t, up(input.VKSpace))
	assert.False(t, down('A'), "other keys while modifiers are held")
	assert.False(t, m.HandleKey(input.KeyEvent{VirtualKey: input.VKSpace, Down: true, Injected: true}))
}
