// Package switcher applies a suggestion: it switches the foreground window
// to the suggested layout and optionally fixes the typed text.
package switcher

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/go-logr/logr"

	"kbcheck/internal/input"
	"kbcheck/internal/layout"
	"kbcheck/internal/presenter"
)

var (
	// ErrNoSuggestion is returned when nothing is being suggested.
	ErrNoSuggestion = errors.New("no suggestion to accept")
	// ErrUnknownLayout is returned when the requested layout is not a candidate.
	ErrUnknownLayout = errors.New("layout is not a candidate")
)

// LayoutSwitcher activates a layout in the foreground window.
type LayoutSwitcher interface {
	SwitchLayout(h layout.Handle) error
}

// Suggestions exposes the suggestion on screen.
type Suggestions interface {
	Last() (presenter.Suggestion, bool)
}

// Resetter clears the typed text.
type Resetter interface {
	Reset()
}

// Options select what Accept does besides resetting the buffer.
type Options struct {
	SwitchLayout    bool
	Retype          bool
	CopyToClipboard bool
}

// Switcher accepts suggestions
type Switcher struct {
	mu       sync.Mutex
	reg      *layout.Registry
	host     LayoutSwitcher
	injector input.Injector
	sugg     Suggestions
	buffer   Resetter
	clip     func(string) error
	opts     Options
	log      logr.Logger

	// Callbacks for UI notifications
	onSwitch func(presenter.Candidate)
	onError  func(error)
}

// New creates a new Switcher instance
func New(reg *layout.Registry, host LayoutSwitcher, injector input.Injector, sugg Suggestions, buffer Resetter, log logr.Logger) *Switcher {
	return &Switcher{
		reg:      reg,
		host:     host,
		injector: injector,
		sugg:     sugg,
		buffer:   buffer,
		clip:     clipboard.WriteAll,
		opts:     Options{SwitchLayout: true},
		log:      log,
	}
}

// SetOptions replaces the accept behaviour.
func (s *Switcher) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
}

// SetClipboard replaces the clipboard writer.
func (s *Switcher) SetClipboard(write func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clip = write
}

// SetOnSwitch sets the callback for accepted suggestions
func (s *Switcher) SetOnSwitch(callback func(presenter.Candidate)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwitch = callback
}

// SetOnError sets the callback for error events
func (s *Switcher) SetOnError(callback func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = callback
}

// pick returns the candidate for layoutName, or the first one when empty.
func (s *Switcher) pick(layoutName string) (presenter.Suggestion, presenter.Candidate, error) {
	sugg, ok := s.sugg.Last()
	if !ok || len(sugg.Candidates) == 0 {
		return sugg, presenter.Candidate{}, ErrNoSuggestion
	}
	if layoutName == "" {
		return sugg, sugg.Candidates[0], nil
	}
	for _, c := range sugg.Candidates {
		if c.Layout == layoutName {
			return sugg, c, nil
		}
	}
	return sugg, presenter.Candidate{}, fmt.Errorf("%w: %s", ErrUnknownLayout, layoutName)
}

// Accept applies the candidate for layoutName (the first candidate when
// empty) and clears the buffer. Failures of individual steps are joined;
// the buffer is reset regardless.
func (s *Switcher) Accept(layoutName string) (presenter.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sugg, c, err := s.pick(layoutName)
	if err != nil {
		return c, err
	}
	l, ok := s.reg.ByName(c.Layout)
	if !ok {
		return c, fmt.Errorf("%w: %s", ErrUnknownLayout, c.Layout)
	}

	s.log.Info("Accepting suggestion", "layout", l.Name, "retype", s.opts.Retype, "copy", s.opts.CopyToClipboard)

	var errs []error
	if s.opts.SwitchLayout {
		if err := s.host.SwitchLayout(l.Handle); err != nil {
			errs = append(errs, fmt.Errorf("switch layout: %w", err))
		}
	}
	if s.opts.Retype {
		if err := s.retype(sugg.Text, c.Text); err != nil {
			errs = append(errs, fmt.Errorf("retype: %w", err))
		}
	}
	if s.opts.CopyToClipboard {
		if err := s.clip(c.Text); err != nil {
			errs = append(errs, fmt.Errorf("copy to clipboard: %w", err))
		}
	}

	s.buffer.Reset()

	err = errors.Join(errs...)
	if err != nil {
		s.log.Error(err, "Accepting suggestion failed", "layout", l.Name)
		if s.onError != nil {
			s.onError(err)
		}
	}
	if s.onSwitch != nil {
		s.onSwitch(c)
	}
	return c, err
}

// retype erases what was typed and types the conversion. Injected input
// never reaches the buffer.
func (s *Switcher) retype(typed, converted string) error {
	if err := s.injector.InjectBackspaces(utf8.RuneCountInString(typed)); err != nil {
		return err
	}
	return s.injector.InjectText(converted)
}

// Copy puts the candidate for layoutName on the clipboard without touching
// the buffer or the layout.
func (s *Switcher) Copy(layoutName string) (presenter.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, err := s.pick(layoutName)
	if err != nil {
		return c, err
	}
	if err := s.clip(c.Text); err != nil {
		return c, fmt.Errorf("copy to clipboard: %w", err)
	}
	s.log.Info("Copied suggestion", "layout", c.Layout)
	return c, nil
}
