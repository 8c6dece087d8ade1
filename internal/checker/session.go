package checker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"kbcheck/internal/input"
)

// ErrHookInstall is returned by Session.Start when the keyboard hook could
// not be installed.
var ErrHookInstall = errors.New("install keyboard hook")

// DefaultQueueSize is the number of keyboard events buffered between the hook
// and the checker.
const DefaultQueueSize = 256

// KeyObserver sees every event the session receives, key-ups and injected
// events included, before the checker does. Returning true consumes the
// event: the checker never sees it.
type KeyObserver func(input.KeyEvent) bool

// Session connects a keyboard hook to a Checker. The hook callback only
// queues events; a single goroutine applies them in arrival order.
type Session struct {
	hook input.Hook
	log  logr.Logger

	mu  sync.Mutex // guards chk
	chk *Checker

	stateMu   sync.Mutex
	running   bool
	events    chan input.KeyEvent
	cancel    context.CancelFunc
	done      chan struct{}
	queueSize int

	observersMu sync.RWMutex
	observers   []KeyObserver

	paused  atomic.Bool
	stale   atomic.Bool
	dropped atomic.Uint64
}

// NewSession returns a stopped session.
func NewSession(hook input.Hook, chk *Checker, log logr.Logger) *Session {
	return &Session{
		hook:      hook,
		chk:       chk,
		log:       log,
		queueSize: DefaultQueueSize,
	}
}

// SetQueueSize changes the event queue capacity used by the next Start.
func (s *Session) SetQueueSize(n int) {
	if n <= 0 {
		n = DefaultQueueSize
	}
	s.stateMu.Lock()
	s.queueSize = n
	s.stateMu.Unlock()
}

// Observe registers fn for every received event.
func (s *Session) Observe(fn KeyObserver) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Start installs the hook and begins processing. Calling Start on a running
// session does nothing.
func (s *Session) Start(ctx context.Context) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.running {
		return nil
	}

	events := make(chan input.KeyEvent, s.queueSize)
	if err := s.hook.Install(func(ev input.KeyEvent) { s.enqueue(events, ev) }); err != nil {
		return fmt.Errorf("%w: %w", ErrHookInstall, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.events = events
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.consume(ctx, events, s.done)

	s.log.Info("Keyboard monitoring started", "queue", s.queueSize)
	return nil
}

// Stop uninstalls the hook, processes the events already queued and waits
// for the consumer to exit. Stopping a stopped session does nothing.
func (s *Session) Stop() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if err := s.hook.Uninstall(); err != nil {
		// The hook may still fire; leave the queue open and abandon it.
		s.cancel()
		<-s.done
		return fmt.Errorf("uninstall keyboard hook: %w", err)
	}

	// Uninstall returns after the last callback, so nothing sends afterwards.
	close(s.events)
	<-s.done
	s.cancel()

	s.log.Info("Keyboard monitoring stopped", "dropped", s.dropped.Load())
	return nil
}

// Running reports whether the hook is installed.
func (s *Session) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

func (s *Session) enqueue(events chan<- input.KeyEvent, ev input.KeyEvent) {
	select {
	case events <- ev:
	default:
		s.stale.Store(true)
		s.dropped.Add(1)
	}
}

func (s *Session) consume(ctx context.Context, events <-chan input.KeyEvent, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.process(ev)
		}
	}
}

func (s *Session) process(ev input.KeyEvent) {
	paused := s.paused.Load()

	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	consumed := false
	for _, fn := range observers {
		if fn(ev) {
			consumed = true
		}
	}

	if paused || consumed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale.Swap(false) {
		s.log.V(1).Info("Events dropped, resetting buffer")
		s.chk.Reset()
	}
	s.chk.HandleKey(ev)
}

// Pause stops feeding events to the checker and clears the buffer. The hook
// stays installed so observers keep working.
func (s *Session) Pause() {
	if s.paused.Swap(true) {
		return
	}
	s.Reset()
	s.log.Info("Keyboard monitoring paused")
}

// Resume undoes Pause.
func (s *Session) Resume() {
	if !s.paused.Swap(false) {
		return
	}
	s.log.Info("Keyboard monitoring resumed")
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Reset clears the checker buffer.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chk.Reset()
}

// Text returns the current buffer.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chk.Text()
}

// SetOptions replaces the checker reset policy.
func (s *Session) SetOptions(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chk.SetOptions(opts)
}

// Options returns the checker reset policy.
func (s *Session) Options() Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chk.Options()
}

// Dropped returns how many events were lost to a full queue.
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}
