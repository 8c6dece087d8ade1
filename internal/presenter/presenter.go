// Package presenter decides when a suggestion is worth showing and hands it
// to one or more displays.
package presenter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
)

// DefaultMinLength is the shortest buffer that can produce a suggestion.
const DefaultMinLength = 5

// Candidate is the buffer as it would read in another layout.
type Candidate struct {
	Layout string `json:"layout"`
	Text   string `json:"text"`
}

// Suggestion is what a display shows.
type Suggestion struct {
	Text       string      `json:"text"`
	Candidates []Candidate `json:"candidates"`
	At         time.Time   `json:"at"`
}

// String renders the suggestion the way the popup shows it.
func (s Suggestion) String() string {
	var b strings.Builder
	b.WriteString("Current text:\n")
	b.WriteString(s.Text)
	b.WriteString("\n\nSuggested conversions:\n")
	for i, c := range s.Candidates {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "• %s: %s", c.Layout, c.Text)
	}
	return b.String()
}

// Equal reports whether both suggestions carry the same text and candidates.
func (s Suggestion) Equal(o Suggestion) bool {
	if s.Text != o.Text || len(s.Candidates) != len(o.Candidates) {
		return false
	}
	for i := range s.Candidates {
		if s.Candidates[i] != o.Candidates[i] {
			return false
		}
	}
	return true
}

// Display shows or hides a suggestion. Implementations must not block.
type Display interface {
	Show(s Suggestion)
	Hide()
}

// Gate turns buffer changes into Show and Hide calls. A suggestion is shown
// when the buffer has at least the minimum length and some other layout
// produced a conversion; otherwise the display is hidden.
type Gate struct {
	mu        sync.Mutex
	display   Display
	minLength int
	visible   bool
	last      Suggestion
	now       func() time.Time
	log       logr.Logger
}

// NewGate returns a hidden gate in front of d.
func NewGate(d Display, minLength int, log logr.Logger) *Gate {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Gate{display: d, minLength: minLength, now: time.Now, log: log}
}

// SetMinLength changes the threshold for the next buffer change.
func (g *Gate) SetMinLength(n int) {
	if n <= 0 {
		n = DefaultMinLength
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minLength = n
}

// MinLength returns the current threshold.
func (g *Gate) MinLength() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.minLength
}

// TextChanged implements checker.Presenter.
func (g *Gate) TextChanged(text string, candidates map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if utf8.RuneCountInString(text) < g.minLength || len(candidates) == 0 {
		if g.visible {
			g.visible = false
			g.last = Suggestion{}
			g.log.V(1).Info("Hiding suggestion")
			g.display.Hide()
		}
		return
	}

	s := Suggestion{Text: text, Candidates: sortCandidates(candidates), At: g.now()}
	if g.visible && s.Equal(g.last) {
		return
	}
	g.visible = true
	g.last = s
	g.display.Show(s)
}

// Last returns the suggestion on screen, if any.
func (g *Gate) Last() (Suggestion, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.visible
}

// Candidates are ordered by layout name.
func sortCandidates(m map[string]string) []Candidate {
	out := make([]Candidate, 0, len(m))
	for name, text := range m {
		out = append(out, Candidate{Layout: name, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layout < out[j].Layout })
	return out
}

// Multi shows on every display in order.
type Multi []Display

// Show implements Display.
func (m Multi) Show(s Suggestion) {
	for _, d := range m {
		d.Show(s)
	}
}

// Hide implements Display.
func (m Multi) Hide() {
	for _, d := range m {
		d.Hide()
	}
}

// LogDisplay writes suggestions to the log. Typed text is only logged at V(1).
type LogDisplay struct {
	Log logr.Logger
}

// Show implements Display.
func (d LogDisplay) Show(s Suggestion) {
	layouts := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		layouts[i] = c.Layout
	}
	d.Log.Info("Suggestion available", "length", utf8.RuneCountInString(s.Text), "layouts", layouts)
	d.Log.V(1).Info("Suggestion", "popup", s.String())
}

// Hide implements Display.
func (d LogDisplay) Hide() {
	d.Log.V(1).Info("Suggestion hidden")
}
