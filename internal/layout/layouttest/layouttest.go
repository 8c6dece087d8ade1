// Package layouttest provides an in-memory keyboard platform with static
// English, Hebrew and Russian tables for tests.
package layouttest

import (
	"sort"
	"strings"
	"sync"

	"kbcheck/internal/layout"
)

// Handles of the built-in layouts. The values follow the Windows HKL
// convention of language id in both words.
const (
	EN layout.Handle = 0x04090409
	HE layout.Handle = 0x040d040d
	RU layout.Handle = 0x04190419
)

// Virtual key codes used by the tables.
const (
	VKBack   layout.VirtualKey = 0x08
	VKTab    layout.VirtualKey = 0x09
	VKReturn layout.VirtualKey = 0x0d
	VKEscape layout.VirtualKey = 0x1b
	VKSpace  layout.VirtualKey = 0x20
	VKOem1   layout.VirtualKey = 0xba // ;
	VKComma  layout.VirtualKey = 0xbc
	VKPeriod layout.VirtualKey = 0xbe
	VKOem2   layout.VirtualKey = 0xbf // /
	VKOem3   layout.VirtualKey = 0xc0 // `
	VKOem4   layout.VirtualKey = 0xdb // [
	VKOem6   layout.VirtualKey = 0xdd // ]
	VKOem7   layout.VirtualKey = 0xde // '
	// VKNoScan has an entry in no scan code table.
	VKNoScan layout.VirtualKey = 0xff
)

// Letter keys share their code with the upper-case ASCII letter.
func Letter(c byte) layout.VirtualKey {
	return layout.VirtualKey(c - 'a' + 'A')
}

// Set 1 scan codes of the physical keys, shared by every layout.
var scanCodes = map[layout.VirtualKey]layout.ScanCode{
	VKBack: 0x0e, VKTab: 0x0f, VKReturn: 0x1c, VKEscape: 0x01, VKSpace: 0x39,
	'1': 0x02, '2': 0x03, '3': 0x04, '4': 0x05, '5': 0x06,
	'6': 0x07, '7': 0x08, '8': 0x09, '9': 0x0a, '0': 0x0b,
	'Q': 0x10, 'W': 0x11, 'E': 0x12, 'R': 0x13, 'T': 0x14,
	'Y': 0x15, 'U': 0x16, 'I': 0x17, 'O': 0x18, 'P': 0x19,
	VKOem4: 0x1a, VKOem6: 0x1b,
	'A': 0x1e, 'S': 0x1f, 'D': 0x20, 'F': 0x21, 'G': 0x22,
	'H': 0x23, 'J': 0x24, 'K': 0x25, 'L': 0x26,
	VKOem1: 0x27, VKOem7: 0x28, VKOem3: 0x29,
	'Z': 0x2c, 'X': 0x2d, 'C': 0x2e, 'V': 0x2f, 'B': 0x30,
	'N': 0x31, 'M': 0x32,
	VKComma: 0x33, VKPeriod: 0x34, VKOem2: 0x35,
}

// common holds the keys that type the same thing in every built-in layout.
var common = map[layout.VirtualKey]string{
	VKBack: "\b", VKTab: "\t", VKReturn: "\r", VKEscape: "\x1b", VKSpace: " ",
	'1': "1", '2': "2", '3': "3", '4': "4", '5': "5",
	'6': "6", '7': "7", '8': "8", '9': "9", '0': "0",
}

func table(rows map[layout.VirtualKey]string) map[layout.VirtualKey]string {
	t := make(map[layout.VirtualKey]string, len(rows)+len(common))
	for vk, s := range common {
		t[vk] = s
	}
	for vk, s := range rows {
		t[vk] = s
	}
	return t
}

func letters(row string, chars ...string) map[layout.VirtualKey]string {
	out := make(map[layout.VirtualKey]string, len(row))
	for i := 0; i < len(row); i++ {
		out[Letter(row[i])] = chars[i]
	}
	return out
}

func merge(ms ...map[layout.VirtualKey]string) map[layout.VirtualKey]string {
	out := make(map[layout.VirtualKey]string)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

const qwerty = "qwertyuiopasdfghjklzxcvbnm"

func builtin(h layout.Handle) map[layout.VirtualKey]string {
	switch h {
	case EN:
		chars := make([]string, len(qwerty))
		for i := range qwerty {
			chars[i] = string(qwerty[i])
		}
		return table(merge(letters(qwerty, chars...), map[layout.VirtualKey]string{
			VKOem1: ";", VKComma: ",", VKPeriod: ".", VKOem2: "/",
			VKOem3: "`", VKOem4: "[", VKOem6: "]", VKOem7: "'",
		}))
	case HE:
		return table(merge(letters(qwerty,
			"/", "'", "ק", "ר", "א", "ט", "ו", "ן", "ם", "פ",
			"ש", "ד", "ג", "כ", "ע", "י", "ח", "ל", "ך",
			"ז", "ס", "ב", "ה", "נ", "מ", "צ"), map[layout.VirtualKey]string{
			VKOem1: "ף", VKComma: "ת", VKPeriod: "ץ", VKOem2: ".",
			VKOem3: ";", VKOem4: "]", VKOem6: "[", VKOem7: ",",
		}))
	case RU:
		return table(merge(letters(qwerty,
			"й", "ц", "у", "к", "е", "н", "г", "ш", "щ", "з",
			"ф", "ы", "в", "а", "п", "р", "о", "л", "д",
			"я", "ч", "с", "м", "и", "т", "ь"), map[layout.VirtualKey]string{
			VKOem1: "ж", VKComma: "б", VKPeriod: "ю", VKOem2: ".",
			VKOem3: "ё", VKOem4: "х", VKOem6: "ъ", VKOem7: "э",
		}))
	}
	return nil
}

// shiftPlanes returns the characters reachable only with Shift or CapsLock.
// Hebrew keeps Latin letters on both planes.
func shiftPlanes(h layout.Handle) map[layout.VirtualKey][]string {
	out := make(map[layout.VirtualKey][]string)
	for i := 0; i < len(qwerty); i++ {
		c := qwerty[i]
		upper := string(c - 'a' + 'A')
		switch h {
		case EN:
			out[Letter(c)] = []string{upper}
		case HE:
			out[Letter(c)] = []string{string(c), upper}
		}
	}
	if h == RU {
		for vk, s := range builtin(RU) {
			if r := []rune(s); len(r) == 1 && r[0] >= 'а' && r[0] <= 'я' || s == "ё" {
				out[vk] = []string{strings.ToUpper(s)}
			}
		}
	}
	return out
}

// Names of the built-in layouts.
var names = map[layout.Handle]string{
	EN: "en-US",
	HE: "he-IL",
	RU: "ru-RU",
}

// Layout returns the built-in layout descriptor for h.
func Layout(h layout.Handle) layout.Layout {
	return layout.Layout{Handle: h, Name: names[h]}
}

// Keymap implements layout.Platform over static tables.
type Keymap struct {
	mu      sync.Mutex
	layouts []layout.Layout
	tables  map[layout.Handle]map[layout.VirtualKey]string
	shifted map[layout.Handle]map[layout.VirtualKey][]string
	active  layout.Handle
	enumErr error
}

// New returns a keymap with the given layouts enumerated in order. Handles of
// built-in layouts get their tables; unknown handles map nothing. The first
// layout is active.
func New(layouts ...layout.Layout) *Keymap {
	k := &Keymap{
		layouts: layouts,
		tables:  make(map[layout.Handle]map[layout.VirtualKey]string),
		shifted: make(map[layout.Handle]map[layout.VirtualKey][]string),
	}
	for _, l := range layouts {
		if t := builtin(l.Handle); t != nil {
			k.tables[l.Handle] = t
			k.shifted[l.Handle] = shiftPlanes(l.Handle)
		}
	}
	if len(layouts) > 0 {
		k.active = layouts[0].Handle
	}
	return k
}

// Default returns a keymap with English, Hebrew and Russian, English active.
func Default() *Keymap {
	return New(Layout(EN), Layout(HE), Layout(RU))
}

// SetActive changes the active layout.
func (k *Keymap) SetActive(h layout.Handle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = h
}

// SetOutput overrides what vk types under l.
func (k *Keymap) SetOutput(l layout.Handle, vk layout.VirtualKey, s string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tables[l] == nil {
		k.tables[l] = make(map[layout.VirtualKey]string)
	}
	k.tables[l][vk] = s
}

// FailEnumeration makes EnumerateLayouts return err.
func (k *Keymap) FailEnumeration(err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.enumErr = err
}

// EnumerateLayouts implements layout.Enumerator.
func (k *Keymap) EnumerateLayouts() ([]layout.Layout, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.enumErr != nil {
		return nil, k.enumErr
	}
	out := make([]layout.Layout, len(k.layouts))
	copy(out, k.layouts)
	return out, nil
}

// Layouts returns the layouts the keymap enumerates.
func (k *Keymap) Layouts() []layout.Layout {
	out, _ := k.EnumerateLayouts()
	return out
}

// ActiveLayout implements layout.ActiveReader.
func (k *Keymap) ActiveLayout() layout.Handle {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// ScanCode implements layout.KeyMapper.
func (k *Keymap) ScanCode(vk layout.VirtualKey, l layout.Handle) (layout.ScanCode, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.tables[l]; !ok {
		return 0, false
	}
	sc, ok := scanCodes[vk]
	return sc, ok
}

// Unicode implements layout.KeyMapper.
func (k *Keymap) Unicode(vk layout.VirtualKey, _ layout.ScanCode, l layout.Handle) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tables[l][vk]
}

// VirtualKey implements layout.KeyMapper. Like VkKeyScanEx it also finds
// characters typed with Shift or CapsLock, reporting only the key. The
// unshifted plane is searched first and the lowest key code wins.
func (k *Keymap) VirtualKey(r rune, l layout.Handle) (layout.VirtualKey, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	want := string(r)
	t := k.tables[l]
	for _, vk := range sortedKeys(t) {
		if t[vk] == want {
			return vk, true
		}
	}
	planes := k.shifted[l]
	for _, vk := range sortedKeys(planes) {
		for _, s := range planes[vk] {
			if s == want {
				return vk, true
			}
		}
	}
	return 0, false
}

func sortedKeys[V any](m map[layout.VirtualKey]V) []layout.VirtualKey {
	keys := make([]layout.VirtualKey, 0, len(m))
	for vk := range m {
		keys = append(keys, vk)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// KeysFor returns the key codes that type s under l, one per rune, and
// false when some rune is unreachable.
func (k *Keymap) KeysFor(s string, l layout.Handle) ([]layout.VirtualKey, bool) {
	out := make([]layout.VirtualKey, 0, len(s))
	for _, r := range s {
		vk, ok := k.VirtualKey(r, l)
		if !ok {
			return nil, false
		}
		out = append(out, vk)
	}
	return out, true
}
