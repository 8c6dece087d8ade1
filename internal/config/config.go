// Package config provides configuration management for the layout checker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kbcheck/internal/hotkey"
	"kbcheck/internal/input"
)

// Config represents the application configuration
type Config struct {
	// General contains general application settings
	General GeneralConfig `toml:"general" json:"general" yaml:"general"`

	// Buffer controls when the typed text is reset
	Buffer BufferConfig `toml:"buffer" json:"buffer" yaml:"buffer"`

	// Presenter controls when and where suggestions are shown
	Presenter PresenterConfig `toml:"presenter" json:"presenter" yaml:"presenter"`

	// Actions controls what accepting a suggestion does
	Actions ActionsConfig `toml:"actions" json:"actions" yaml:"actions"`

	// API configures the local HTTP API
	API APIConfig `toml:"api" json:"api" yaml:"api"`

	// Log configures logging outputs
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	// StartOnLogin registers the app to start when the user logs in
	StartOnLogin bool `toml:"start_on_login" json:"start_on_login" yaml:"start_on_login"`

	// Tray shows the system tray icon
	Tray bool `toml:"tray" json:"tray" yaml:"tray"`

	// AcceptHotkey applies the first suggestion (e.g. "Ctrl+Alt+Space")
	AcceptHotkey string `toml:"accept_hotkey" json:"accept_hotkey" yaml:"accept_hotkey"`

	// ResetHotkey clears the typed text
	ResetHotkey string `toml:"reset_hotkey" json:"reset_hotkey" yaml:"reset_hotkey"`

	// PauseHotkey toggles monitoring
	PauseHotkey string `toml:"pause_hotkey" json:"pause_hotkey" yaml:"pause_hotkey"`
}

// BufferConfig controls the typed-text buffer
type BufferConfig struct {
	// MaxLength caps the buffer, dropping the oldest characters. 0 is unlimited.
	MaxLength int `toml:"max_length" json:"max_length" yaml:"max_length"`

	// ResetKeys are key names that clear the buffer (e.g. "Enter")
	ResetKeys []string `toml:"reset_keys" json:"reset_keys" yaml:"reset_keys"`

	// ResetOnFocusChange clears the buffer when another window gets focus
	ResetOnFocusChange bool `toml:"reset_on_focus_change" json:"reset_on_focus_change" yaml:"reset_on_focus_change"`

	// IdleReset clears the buffer after this much time without typing. "0s" disables.
	IdleReset Duration `toml:"idle_reset" json:"idle_reset" yaml:"idle_reset"`

	// StrictCandidates only suggests conversions that kept every character
	StrictCandidates bool `toml:"strict_candidates" json:"strict_candidates" yaml:"strict_candidates"`

	// QueueSize is the number of key events buffered ahead of the checker
	QueueSize int `toml:"queue_size" json:"queue_size" yaml:"queue_size"`
}

// PresenterConfig controls suggestion display
type PresenterConfig struct {
	// MinLength is the shortest text that produces a suggestion
	MinLength int `toml:"min_length" json:"min_length" yaml:"min_length"`

	// Notify shows suggestions as desktop notifications
	Notify bool `toml:"notify" json:"notify" yaml:"notify"`

	// NotifyInterval is the minimum time between two notifications
	NotifyInterval Duration `toml:"notify_interval" json:"notify_interval" yaml:"notify_interval"`
}

// ActionsConfig controls what accepting a suggestion does
type ActionsConfig struct {
	// SwitchLayout activates the suggested layout in the foreground window
	SwitchLayout bool `toml:"switch_layout" json:"switch_layout" yaml:"switch_layout"`

	// Retype erases the typed text and types the conversion instead
	Retype bool `toml:"retype" json:"retype" yaml:"retype"`

	// CopyToClipboard puts the conversion on the clipboard
	CopyToClipboard bool `toml:"copy_to_clipboard" json:"copy_to_clipboard" yaml:"copy_to_clipboard"`
}

// APIConfig configures the local HTTP API
type APIConfig struct {
	// Enabled starts the API server on 127.0.0.1
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Port is the port for the API server (default: 18081)
	Port int `toml:"port" json:"port" yaml:"port"`

	// Token is an optional bearer token for API requests
	Token string `toml:"token,omitempty" json:"token,omitempty" yaml:"token,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error
	Level string `toml:"level" json:"level" yaml:"level"`

	// File receives JSON log lines. Empty uses the default location.
	File string `toml:"file,omitempty" json:"file,omitempty" yaml:"file,omitempty"`

	// Console also logs to stderr
	Console bool `toml:"console" json:"console" yaml:"console"`
}

// DefaultConfig returns a new Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			StartOnLogin: false,
			Tray:         true,
			AcceptHotkey: "Ctrl+Alt+Space",
			ResetHotkey:  "Ctrl+Alt+Backspace",
			PauseHotkey:  "Ctrl+Alt+P",
		},
		Buffer: BufferConfig{
			MaxLength:          256,
			ResetKeys:          []string{"Enter", "Esc", "Tab"},
			ResetOnFocusChange: true,
			QueueSize:          256,
		},
		Presenter: PresenterConfig{
			MinLength:      5,
			Notify:         true,
			NotifyInterval: Duration(2 * time.Second),
		},
		Actions: ActionsConfig{
			SwitchLayout: true,
			Retype:       false,
		},
		API: APIConfig{
			Enabled: false,
			Port:    18081,
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Buffer.ResetKeys = slices.Clone(c.Buffer.ResetKeys)
	return &out
}

// ResetKeyCodes resolves the reset key names to virtual keys.
func (b BufferConfig) ResetKeyCodes() ([]uint32, error) {
	out := make([]uint32, 0, len(b.ResetKeys))
	for _, name := range b.ResetKeys {
		vk, ok := input.KeyCode(name)
		if !ok {
			return nil, fmt.Errorf("unknown key %q", name)
		}
		out = append(out, vk)
	}
	return out, nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	for field, hk := range map[string]string{
		"general.accept_hotkey": c.General.AcceptHotkey,
		"general.reset_hotkey":  c.General.ResetHotkey,
		"general.pause_hotkey":  c.General.PauseHotkey,
	} {
		if hk == "" {
			continue
		}
		if _, err := hotkey.Parse(hk); err != nil {
			errs = append(errs, ValidationError{Field: field, Message: err.Error()})
		}
	}

	if c.Buffer.MaxLength < 0 {
		errs = append(errs, ValidationError{Field: "buffer.max_length", Message: "must not be negative"})
	}
	if _, err := c.Buffer.ResetKeyCodes(); err != nil {
		errs = append(errs, ValidationError{Field: "buffer.reset_keys", Message: err.Error()})
	}
	if c.Buffer.IdleReset < 0 {
		errs = append(errs, ValidationError{Field: "buffer.idle_reset", Message: "must not be negative"})
	}
	if c.Buffer.QueueSize < 0 {
		errs = append(errs, ValidationError{Field: "buffer.queue_size", Message: "must not be negative"})
	}

	if c.Presenter.MinLength < 1 {
		errs = append(errs, ValidationError{Field: "presenter.min_length", Message: "must be at least 1"})
	}
	if c.Presenter.NotifyInterval < 0 {
		errs = append(errs, ValidationError{Field: "presenter.notify_interval", Message: "must not be negative"})
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, ValidationError{Field: "api.port", Message: fmt.Sprintf("invalid port %d", c.API.Port)})
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{Field: "log.level", Message: fmt.Sprintf("unknown level %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
		return errs
	}
	return nil
}

// Environment variables that override the file.
const (
	EnvMinLength = "KBCHECK_MIN_LENGTH"
	EnvLogLevel  = "KBCHECK_LOG_LEVEL"
)

// ApplyEnvOverrides applies environment variable overrides to the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvMinLength); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Presenter.MinLength = n
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// DefaultPath returns the path to the configuration file
func DefaultPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "kbcheck")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		configDir = filepath.Join(appData, "kbcheck")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".config", "kbcheck")
	}

	return filepath.Join(configDir, "config.toml"), nil
}

// Duration is a time.Duration written as a string ("2s") in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
