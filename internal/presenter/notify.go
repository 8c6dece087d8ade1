package presenter

import (
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/go-logr/logr"
)

// NotifyFunc sends one desktop notification.
type NotifyFunc func(title, message string) error

// BeeepNotify sends through the desktop notification service.
func BeeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// NotifyDisplay raises a desktop notification for new suggestions. Sending
// happens on a background goroutine; a suggestion arriving while one is being
// sent replaces any pending one. Notifications are at least Interval apart and
// are only sent when the set of candidates changed since the last one. A
// suggestion held back by the interval is sent once it has elapsed, unless
// it was hidden or replaced first.
type NotifyDisplay struct {
	Title    string
	Interval time.Duration

	notify NotifyFunc
	now    func() time.Time
	log    logr.Logger

	mu       sync.Mutex
	disabled bool
	pending  *Suggestion
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	lastKey  string
	lastAt   time.Time
}

// NewNotifyDisplay starts the sender goroutine. A nil notify uses beeep.
func NewNotifyDisplay(notify NotifyFunc, interval time.Duration, log logr.Logger) *NotifyDisplay {
	if notify == nil {
		notify = BeeepNotify
	}
	d := &NotifyDisplay{
		Title:    "Wrong keyboard layout?",
		Interval: interval,
		notify:   notify,
		now:      time.Now,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// SetInterval changes the minimum time between notifications.
func (d *NotifyDisplay) SetInterval(interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Interval = interval
}

// SetEnabled turns notifications on or off. Disabling drops a pending one.
func (d *NotifyDisplay) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled = !enabled
	if d.disabled {
		d.pending = nil
	}
}

// Show implements Display.
func (d *NotifyDisplay) Show(s Suggestion) {
	d.mu.Lock()
	if d.disabled {
		d.mu.Unlock()
		return
	}
	d.pending = &s
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Hide drops a pending notification. Sent notifications expire on their own.
func (d *NotifyDisplay) Hide() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

// Close stops the sender and waits for it. It is safe to call more than once.
func (d *NotifyDisplay) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *NotifyDisplay) run() {
	defer close(d.done)

	retry := time.NewTimer(time.Hour)
	retry.Stop()
	defer retry.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-retry.C:
		}
		retry.Stop()
		if wait := d.flush(); wait > 0 {
			retry.Reset(wait)
		}
	}
}

// flush sends the pending suggestion. When the interval has not elapsed it
// keeps the suggestion and returns how long to wait.
func (d *NotifyDisplay) flush() time.Duration {
	d.mu.Lock()
	s := d.pending
	if s == nil {
		d.mu.Unlock()
		return 0
	}
	key := candidateKey(s.Candidates)
	if key == d.lastKey {
		d.pending = nil
		d.mu.Unlock()
		return 0
	}
	now := d.now()
	if elapsed := now.Sub(d.lastAt); !d.lastAt.IsZero() && elapsed < d.Interval {
		d.mu.Unlock()
		return d.Interval - elapsed
	}
	d.pending = nil
	d.lastKey = key
	d.lastAt = now
	d.mu.Unlock()

	if err := d.notify(d.Title, notificationBody(*s)); err != nil {
		d.log.Error(err, "Failed to send notification")
	}
	return 0
}

func candidateKey(cs []Candidate) string {
	var b strings.Builder
	for _, c := range cs {
		b.WriteString(c.Layout)
		b.WriteByte(0)
		b.WriteString(c.Text)
		b.WriteByte(0)
	}
	return b.String()
}

func notificationBody(s Suggestion) string {
	lines := make([]string, len(s.Candidates))
	for i, c := range s.Candidates {
		lines[i] = "• " + c.Layout + ": " + c.Text
	}
	return strings.Join(lines, "\n")
}
