package layout

import (
	"strings"

	"github.com/go-logr/logr"
)

// Converter reinterprets text typed under one layout as the text the same
// keystrokes would have produced under another.
type Converter struct {
	tr  *Translator
	log logr.Logger
}

// NewConverter returns a converter using the translator.
func NewConverter(tr *Translator, log logr.Logger) *Converter {
	return &Converter{tr: tr, log: log}
}

// Convert maps every character of text from one layout to another. A
// character without a key under from, or whose key types nothing under to,
// is dropped; the result is never longer than text.
func (c *Converter) Convert(text string, from, to Handle) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		vk, ok := c.tr.KeyFor(r, from)
		if !ok {
			continue
		}
		if out, ok := c.tr.CharFor(vk, to); ok {
			b.WriteRune(out)
		}
	}
	return b.String()
}

// ConvertAll converts text into every registered layout other than from.
// Layouts whose conversion is empty are left out.
func (c *Converter) ConvertAll(text string, from Handle, reg *Registry) map[Layout]string {
	out := make(map[Layout]string)
	for _, l := range reg.layouts {
		if l.Handle == from {
			continue
		}
		converted := c.Convert(text, from, l.Handle)
		if converted == "" {
			continue
		}
		out[l] = converted
		c.log.V(2).Info("Converted text", "from", reg.Name(from), "to", l.Name, "text", converted)
	}
	return out
}

// IsValidInLayout reports whether every character of text is reachable
// through some key of l.
func (c *Converter) IsValidInLayout(text string, l Handle) bool {
	for _, r := range text {
		if _, ok := c.tr.KeyFor(r, l); !ok {
			return false
		}
	}
	return true
}
