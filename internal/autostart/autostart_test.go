package autostart

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore map[string]string

func (m memStore) get(name string) (string, error) { return m[name], nil }
func (m memStore) set(name, cmd string) error      { m[name] = cmd; return nil }
func (m memStore) remove(name string) error        { delete(m, name); return nil }

func newTestManager(exe string, args ...string) (*Manager, memStore) {
	s := memStore{}
	return &Manager{
		store:      s,
		executable: func() (string, error) { return exe, nil },
		args:       args,
		log:        logr.Discard(),
	}, s
}

func TestCommandQuotesPaths(t *testing.T) {
	m, _ := newTestManager(`C:\Program Files\kbcheck\kbcheck.exe`, "--no-tray")
	cmd, err := m.Command()
	require.NoError(t, err)
	assert.Equal(t, `"C:\Program Files\kbcheck\kbcheck.exe" --no-tray`, cmd)

	m, _ = newTestManager(`C:\kbcheck.exe`)
	cmd, err = m.Command()
	require.NoError(t, err)
	assert.Equal(t, `C:\kbcheck.exe`, cmd)
}

func TestEnableDisable(t *testing.T) {
	m, s := newTestManager(`C:\kbcheck.exe`)

	on, err := m.IsEnabled()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, m.Apply(true))
	assert.Equal(t, `C:\kbcheck.exe`, s[Name])
	on, err = m.IsEnabled()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, m.Apply(false))
	assert.NotContains(t, s, Name)
	require.NoError(t, m.Disable(), "disabling twice succeeds")
}

func TestIsEnabledIgnoresOtherExecutables(t *testing.T) {
	m, s := newTestManager(`C:\kbcheck.exe`)
	s[Name] = `D:\old\kbcheck.exe`

	on, err := m.IsEnabled()
	require.NoError(t, err)
	assert.False(t, on)
}

func TestExecutableError(t *testing.T) {
	m, s := newTestManager("")
	m.executable = func() (string, error) { return "", errors.New("no path") }

	assert.Error(t, m.Enable())
	assert.Empty(t, s)
}
