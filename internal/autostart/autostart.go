// Package autostart registers the detector to start on login.
package autostart

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
)

// Name is the value name of the login entry.
const Name = "kbcheck"

// ErrUnsupported is returned on platforms without a login entry store.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// store holds named login commands.
type store interface {
	// get returns the command for name, or "" when there is none.
	get(name string) (string, error)
	set(name, command string) error
	remove(name string) error
}

// Manager enables and disables the login entry for the running executable.
type Manager struct {
	store      store
	executable func() (string, error)
	args       []string
	log        logr.Logger
}

// New returns a manager backed by the platform store. args are appended to
// the executable path in the login command.
func New(log logr.Logger, args ...string) *Manager {
	return &Manager{
		store:      platformStore(),
		executable: os.Executable,
		args:       args,
		log:        log,
	}
}

// Command returns the login command for the running executable.
func (m *Manager) Command() (string, error) {
	exe, err := m.executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	parts := make([]string, 0, len(m.args)+1)
	parts = append(parts, quote(exe))
	for _, a := range m.args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " "), nil
}

// Enable enables auto-start on login
func (m *Manager) Enable() error {
	cmd, err := m.Command()
	if err != nil {
		return err
	}
	if err := m.store.set(Name, cmd); err != nil {
		return fmt.Errorf("enable autostart: %w", err)
	}
	m.log.Info("Enabled autostart", "command", cmd)
	return nil
}

// Disable disables auto-start on login. Disabling an absent entry succeeds.
func (m *Manager) Disable() error {
	if err := m.store.remove(Name); err != nil {
		return fmt.Errorf("disable autostart: %w", err)
	}
	m.log.Info("Disabled autostart")
	return nil
}

// IsEnabled reports whether the login entry points at this executable.
func (m *Manager) IsEnabled() (bool, error) {
	got, err := m.store.get(Name)
	if err != nil {
		return false, err
	}
	if got == "" {
		return false, nil
	}
	want, err := m.Command()
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, want), nil
}

// Apply enables or disables the entry to match enabled.
func (m *Manager) Apply(enabled bool) error {
	if enabled {
		return m.Enable()
	}
	return m.Disable()
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
