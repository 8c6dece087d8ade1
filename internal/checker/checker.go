// Package checker owns the typed-text buffer and turns keystrokes into
// cross-layout suggestions.
package checker

import (
	"sort"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-logr/logr"

	"kbcheck/internal/input"
	"kbcheck/internal/layout"
)

// Presenter receives the buffer and its candidate conversions after every
// change, keyed by layout name. Deciding whether to show anything is up to
// the presenter.
type Presenter interface {
	TextChanged(text string, candidates map[string]string)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(text string, candidates map[string]string)

// TextChanged calls f.
func (f PresenterFunc) TextChanged(text string, candidates map[string]string) {
	f(text, candidates)
}

// Options tune the buffer reset policy. The zero value never resets the
// buffer on its own: only Backspace shrinks it.
type Options struct {
	// MaxLength caps the buffer; the oldest runes are dropped. 0 is unlimited.
	MaxLength int
	// ResetKeys are virtual keys whose key-down clears the buffer.
	ResetKeys []uint32
	// ResetOnFocusChange clears the buffer when the foreground window changes.
	ResetOnFocusChange bool
	// IdleReset clears the buffer when no key arrived for this long. 0 disables.
	IdleReset time.Duration
	// StrictCandidates drops conversions that lost any character or that
	// the target layout cannot type back.
	StrictCandidates bool
}

// DefaultOptions is the policy the service runs with unless configured
// otherwise.
func DefaultOptions() Options {
	return Options{
		MaxLength:          256,
		ResetKeys:          []uint32{input.VKReturn, input.VKEscape, input.VKTab},
		ResetOnFocusChange: true,
	}
}

// Checker is the input state machine. It is not safe for concurrent use;
// Session serializes access to it.
type Checker struct {
	reg    *layout.Registry
	tr     *layout.Translator
	conv   *layout.Converter
	active layout.ActiveReader
	pres   Presenter
	log    logr.Logger

	opts      Options
	resetKeys map[uint32]bool

	buf        []rune
	lastWindow uintptr
	lastKey    time.Time
}

// New returns a checker with an empty buffer.
func New(reg *layout.Registry, tr *layout.Translator, active layout.ActiveReader, pres Presenter, log logr.Logger) *Checker {
	c := &Checker{
		reg:    reg,
		tr:     tr,
		conv:   layout.NewConverter(tr, log.WithName("converter")),
		active: active,
		pres:   pres,
		log:    log,
	}
	c.SetOptions(Options{})
	return c
}

// SetOptions replaces the reset policy.
func (c *Checker) SetOptions(opts Options) {
	c.opts = opts
	c.resetKeys = make(map[uint32]bool, len(opts.ResetKeys))
	for _, vk := range opts.ResetKeys {
		c.resetKeys[vk] = true
	}
	if opts.MaxLength > 0 && len(c.buf) > opts.MaxLength {
		c.buf = c.buf[len(c.buf)-opts.MaxLength:]
	}
}

// Options returns the current reset policy.
func (c *Checker) Options() Options {
	return c.opts
}

// Text returns the buffer contents.
func (c *Checker) Text() string {
	return string(c.buf)
}

// Len returns the buffer length in characters.
func (c *Checker) Len() int {
	return len(c.buf)
}

// HandleKey applies one keyboard event and reports whether the buffer
// changed. Injected events and key-ups never touch the buffer.
func (c *Checker) HandleKey(ev input.KeyEvent) bool {
	if !ev.Down || ev.Injected {
		return false
	}

	active := layout.Handle(ev.Layout)
	if active == 0 {
		active = c.active.ActiveLayout()
	}

	changed := c.applyResetPolicy(ev)

	switch {
	case ev.VirtualKey == input.VKBack:
		if len(c.buf) > 0 {
			c.buf = c.buf[:len(c.buf)-1]
			changed = true
			c.log.V(1).Info("Backspace pressed", "text", string(c.buf))
		}
	case c.resetKeys[ev.VirtualKey]:
		if len(c.buf) > 0 {
			c.buf = c.buf[:0]
			changed = true
			c.log.V(1).Info("Buffer reset by key", "vk", ev.VirtualKey)
		}
	default:
		r, ok := c.tr.CharFor(layout.VirtualKey(ev.VirtualKey), active)
		if ok && !unicode.IsControl(r) {
			c.buf = append(c.buf, r)
			if c.opts.MaxLength > 0 && len(c.buf) > c.opts.MaxLength {
				c.buf = c.buf[len(c.buf)-c.opts.MaxLength:]
			}
			changed = true
			c.log.V(1).Info("Key pressed", "char", string(r), "text", string(c.buf))
		}
	}

	if changed {
		c.publish(active)
	}
	return changed
}

func (c *Checker) applyResetPolicy(ev input.KeyEvent) bool {
	reset := false
	if c.opts.ResetOnFocusChange && ev.Window != 0 {
		if c.lastWindow != 0 && ev.Window != c.lastWindow {
			reset = true
		}
		c.lastWindow = ev.Window
	}
	if c.opts.IdleReset > 0 && !ev.Time.IsZero() {
		if !c.lastKey.IsZero() && ev.Time.Sub(c.lastKey) > c.opts.IdleReset {
			reset = true
		}
		c.lastKey = ev.Time
	}
	if reset && len(c.buf) > 0 {
		c.buf = c.buf[:0]
		c.log.V(1).Info("Buffer reset by policy")
		return true
	}
	return false
}

// Reset clears the buffer and publishes the empty state when it was not
// already empty.
func (c *Checker) Reset() {
	if len(c.buf) == 0 {
		return
	}
	c.buf = c.buf[:0]
	c.publish(c.active.ActiveLayout())
}

func (c *Checker) publish(active layout.Handle) {
	text := string(c.buf)
	conversions := c.conv.ConvertAll(text, active, c.reg)

	candidates := make(map[string]string, len(conversions))
	want := utf8.RuneCountInString(text)
	for l, converted := range conversions {
		if c.opts.StrictCandidates && (utf8.RuneCountInString(converted) != want || !c.conv.IsValidInLayout(converted, l.Handle)) {
			continue
		}
		candidates[l.Name] = converted
	}
	if len(candidates) > 0 {
		c.log.V(1).Info("Candidate conversions", "from", c.reg.Name(active), "layouts", sortedKeys(candidates))
	}
	c.pres.TextChanged(text, candidates)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
