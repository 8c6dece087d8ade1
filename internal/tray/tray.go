// Package tray provides system tray functionality using getlantern/systray.
package tray

import (
	"encoding/binary"
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Tooltip  string
	Checkbox bool
	Checked  bool
	Disabled bool
	Callback func()
	item     *systray.MenuItem
}

// Tray manages the system tray icon and menu. Items are added before Run;
// their state may be changed from any goroutine afterwards.
type Tray struct {
	mu      sync.Mutex
	title   string
	tooltip string
	paused  bool
	items   []*MenuItem
	ready   bool
	readyCh chan struct{}
	quitCh  chan struct{}
	onExit  func()
}

// New creates a new system tray
func New(title, tooltip string) *Tray {
	return &Tray{
		title:   title,
		tooltip: tooltip,
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

// OnExit sets a function run when the tray loop ends.
func (t *Tray) OnExit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExit = fn
}

// AddMenuItem adds a menu item to the tray
func (t *Tray) AddMenuItem(title string, callback func()) int {
	return t.add(&MenuItem{Title: title, Callback: callback})
}

// AddCheckbox adds a checkable item. callback runs after the check mark
// has been toggled and receives the new state.
func (t *Tray) AddCheckbox(title string, checked bool, callback func(bool)) int {
	mi := &MenuItem{Title: title, Checkbox: true, Checked: checked}
	id := t.add(mi)
	mi.Callback = func() {
		callback(t.toggle(id))
	}
	return id
}

// AddLabel adds a disabled item used to show state.
func (t *Tray) AddLabel(title string) int {
	return t.add(&MenuItem{Title: title, Disabled: true})
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, nil) // nil indicates separator
}

func (t *Tray) add(mi *MenuItem) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi.ID = len(t.items)
	t.items = append(t.items, mi)
	return mi.ID
}

func (t *Tray) lookup(id int) *MenuItem {
	if id < 0 || id >= len(t.items) {
		return nil
	}
	return t.items[id]
}

func (t *Tray) toggle(id int) bool {
	t.mu.Lock()
	mi := t.lookup(id)
	t.mu.Unlock()
	if mi == nil {
		return false
	}
	checked := !t.Checked(id)
	t.SetItemChecked(id, checked)
	return checked
}

// Checked reports the check state of a menu item.
func (t *Tray) Checked(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		return mi.Checked
	}
	return false
}

// SetItemChecked sets the checked state of a menu item
func (t *Tray) SetItemChecked(id int, checked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return
	}
	mi.Checked = checked
	if mi.item == nil {
		return
	}
	if checked {
		mi.item.Check()
	} else {
		mi.item.Uncheck()
	}
}

// SetItemTitle changes the text of a menu item.
func (t *Tray) SetItemTitle(id int, title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return
	}
	mi.Title = title
	if mi.item != nil {
		mi.item.SetTitle(title)
	}
}

// Title returns the text of a menu item.
func (t *Tray) Title(id int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mi := t.lookup(id); mi != nil {
		return mi.Title
	}
	return ""
}

// SetItemEnabled enables or greys out a menu item.
func (t *Tray) SetItemEnabled(id int, enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mi := t.lookup(id)
	if mi == nil {
		return
	}
	mi.Disabled = !enabled
	if mi.item == nil {
		return
	}
	if enabled {
		mi.item.Enable()
	} else {
		mi.item.Disable()
	}
}

// SetTooltip changes the icon tooltip.
func (t *Tray) SetTooltip(tooltip string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tooltip = tooltip
	if t.ready {
		systray.SetTooltip(tooltip)
	}
}

// SetPaused switches between the active and the paused icon.
func (t *Tray) SetPaused(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = paused
	if t.ready {
		systray.SetIcon(iconFor(paused))
	}
}

// Ready is closed once the menu has been created.
func (t *Tray) Ready() <-chan struct{} { return t.readyCh }

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, t.exit)
}

func (t *Tray) exit() {
	close(t.quitCh)
	t.mu.Lock()
	fn := t.onExit
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	t.mu.Lock()
	systray.SetTitle(t.title)
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(iconFor(t.paused))

	// Create menu items
	for _, menuItem := range t.items {
		if menuItem == nil {
			systray.AddSeparator()
			continue
		}
		if menuItem.Checkbox {
			menuItem.item = systray.AddMenuItemCheckbox(menuItem.Title, menuItem.Tooltip, menuItem.Checked)
		} else {
			menuItem.item = systray.AddMenuItem(menuItem.Title, menuItem.Tooltip)
		}
		if menuItem.Disabled {
			menuItem.item.Disable()
		}

		// Handle clicks in goroutine
		if menuItem.Callback != nil {
			go func(mi *MenuItem, clicked <-chan struct{}) {
				for {
					select {
					case <-clicked:
						mi.Callback()
					case <-t.quitCh:
						return
					}
				}
			}(menuItem, menuItem.item.ClickedCh)
		}
	}
	t.ready = true
	t.mu.Unlock()

	close(t.readyCh)
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

var (
	activeColor = [4]byte{0xd0, 0x7a, 0x1e, 0xff} // BGRA
	pausedColor = [4]byte{0x80, 0x80, 0x80, 0xff}
)

func iconFor(paused bool) []byte {
	if paused {
		return icon(pausedColor)
	}
	return icon(activeColor)
}

// icon returns a 16x16 32-bit ICO with a keyboard shaped glyph in color.
func icon(color [4]byte) []byte {
	const (
		size      = 16
		headerLen = 6 + 16
		dibLen    = 40
		pixelLen  = size * size * 4
		maskLen   = size * 4 // 1bpp rows padded to 32 bits
	)
	buf := make([]byte, headerLen+dibLen+pixelLen+maskLen)

	// ICONDIR and ICONDIRENTRY
	binary.LittleEndian.PutUint16(buf[2:], 1)
	binary.LittleEndian.PutUint16(buf[4:], 1)
	buf[6], buf[7] = size, size
	binary.LittleEndian.PutUint16(buf[10:], 1)
	binary.LittleEndian.PutUint16(buf[12:], 32)
	binary.LittleEndian.PutUint32(buf[14:], dibLen+pixelLen+maskLen)
	binary.LittleEndian.PutUint32(buf[18:], headerLen)

	// BITMAPINFOHEADER, height doubled for the AND mask
	dib := buf[headerLen:]
	binary.LittleEndian.PutUint32(dib[0:], dibLen)
	binary.LittleEndian.PutUint32(dib[4:], size)
	binary.LittleEndian.PutUint32(dib[8:], size*2)
	binary.LittleEndian.PutUint16(dib[12:], 1)
	binary.LittleEndian.PutUint16(dib[14:], 32)
	binary.LittleEndian.PutUint32(dib[20:], pixelLen)

	// Rows are stored bottom up. Draw a rounded body with three key rows.
	pixels := dib[dibLen:]
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if !keyboardPixel(x, size-1-y) {
				continue
			}
			copy(pixels[(y*size+x)*4:], color[:])
		}
	}
	return buf
}

func keyboardPixel(x, y int) bool {
	if y < 3 || y > 12 || x < 1 || x > 14 {
		return false
	}
	if (x == 1 || x == 14) && (y == 3 || y == 12) {
		return false
	}
	// Keys are holes in the body.
	if y == 5 || y == 7 {
		return x%2 == 0 && x > 2 && x < 13
	}
	if y == 9 {
		return !(x > 4 && x < 11)
	}
	return true
}
