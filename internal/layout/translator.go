package layout

import "unicode/utf8"

// Translator maps single key events to characters and back.
//
// Translation always uses an empty modifier state: Shift, AltGr and dead-key
// composition are ignored. Conversion semantics depend on this, so it must
// not be "fixed" to honour modifiers.
type Translator struct {
	m KeyMapper
}

// NewTranslator returns a translator over the given key mapper.
func NewTranslator(m KeyMapper) *Translator {
	return &Translator{m: m}
}

// CharFor returns the character vk produces under l. It reports false when
// the key has no scan code, produces nothing, or produces more than one
// character.
func (t *Translator) CharFor(vk VirtualKey, l Handle) (rune, bool) {
	sc, ok := t.m.ScanCode(vk, l)
	if !ok || sc == 0 {
		return 0, false
	}
	s := t.m.Unicode(vk, sc, l)
	if utf8.RuneCountInString(s) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0, false
	}
	return r, true
}

// KeyFor returns the virtual key that types r under l.
func (t *Translator) KeyFor(r rune, l Handle) (VirtualKey, bool) {
	return t.m.VirtualKey(r, l)
}
