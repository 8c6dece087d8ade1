package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbcheck/internal/input"
	"kbcheck/internal/layout"
	"kbcheck/internal/layout/layouttest"
)

// fakeHook delivers events synchronously while holding its lock, so that
// Uninstall waits for in-flight callbacks like the real hook does.
type fakeHook struct {
	mu           sync.Mutex
	handler      func(input.KeyEvent)
	installErr   error
	uninstallErr error
	installs     int
	uninstalls   int
}

func (h *fakeHook) Install(fn func(input.KeyEvent)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.installs++
	if h.installErr != nil {
		return h.installErr
	}
	h.handler = fn
	return nil
}

func (h *fakeHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uninstalls++
	if h.uninstallErr != nil {
		return h.uninstallErr
	}
	h.handler = nil
	return nil
}

func (h *fakeHook) send(ev input.KeyEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.handler != nil {
		h.handler(ev)
	}
}

func (h *fakeHook) typeKeys(l layout.Handle, vks ...layout.VirtualKey) {
	for _, vk := range vks {
		h.send(down(vk, l))
	}
}

func newSession(t *testing.T) (*Session, *fakeHook, *recorder) {
	t.Helper()
	km := layouttest.Default()
	c, rec := newChecker(km)
	hook := &fakeHook{}
	s := NewSession(hook, c, logr.Discard())
	t.Cleanup(func() { _ = s.Stop() })
	return s, hook, rec
}

func TestSessionProcessesEventsInOrder(t *testing.T) {
	s, hook, rec := newSession(t)
	require.NoError(t, s.Start(context.Background()))

	letters := []layout.VirtualKey{
		layouttest.Letter('g'), layouttest.Letter('h'), layouttest.Letter('b'),
		layouttest.Letter('d'), layouttest.Letter('t'), layouttest.Letter('n'),
	}
	hook.typeKeys(layouttest.EN, letters...)
	require.NoError(t, s.Stop())

	changes := rec.all()
	require.Len(t, changes, 6)
	want := []string{"g", "gh", "ghb", "ghbd", "ghbdt", "ghbdtn"}
	for i, ch := range changes {
		assert.Equal(t, want[i], ch.text)
	}
	assert.Equal(t, "привет", changes[5].candidates["ru-RU"])
	assert.Equal(t, "ghbdtn", s.Text())
}

func TestSessionFiveBackspacesEmptyTheBuffer(t *testing.T) {
	s, hook, rec := newSession(t)
	require.NoError(t, s.Start(context.Background()))

	hook.typeKeys(layouttest.EN,
		layouttest.Letter('h'), layouttest.Letter('e'), layouttest.Letter('l'),
		layouttest.Letter('l'), layouttest.Letter('o'))
	for i := 0; i < 6; i++ {
		hook.send(down(layouttest.VKBack, layouttest.EN))
	}
	require.NoError(t, s.Stop())

	assert.Empty(t, s.Text())
	assert.Len(t, rec.all(), 10)
}

func TestSessionIgnoresInjectedEvents(t *testing.T) {
	s, hook, rec := newSession(t)
	require.NoError(t, s.Start(context.Background()))

	hook.typeKeys(layouttest.EN, layouttest.Letter('a'))
	ev := down(layouttest.VKBack, layouttest.EN)
	ev.Injected = true
	hook.send(ev)
	require.NoError(t, s.Stop())

	assert.Equal(t, "a", s.Text())
	assert.Len(t, rec.all(), 1)
}

func TestSessionStartFailureWrapsError(t *testing.T) {
	s, hook, _ := newSession(t)
	osErr := errors.New("access denied")
	hook.installErr = osErr

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHookInstall)
	assert.ErrorIs(t, err, osErr)
	assert.False(t, s.Running())
}

func TestSessionStartStopAreIdempotent(t *testing.T) {
	s, hook, _ := newSession(t)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Running())
	assert.Equal(t, 1, hook.installs)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.Running())
	assert.Equal(t, 1, hook.uninstalls)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, hook.installs)
}

func TestSessionStopAfterUninstallFailure(t *testing.T) {
	s, hook, _ := newSession(t)
	require.NoError(t, s.Start(context.Background()))
	hook.uninstallErr = errors.New("thread gone")

	err := s.Stop()
	require.Error(t, err)
	assert.ErrorIs(t, err, hook.uninstallErr)
	assert.False(t, s.Running())

	// The abandoned queue must not panic the hook.
	hook.send(down(layouttest.Letter('a'), layouttest.EN))
}

func TestSessionOverflowResetsBuffer(t *testing.T) {
	km := layouttest.Default()
	c, _ := newChecker(km)
	hook := &fakeHook{}
	s := NewSession(hook, c, logr.Discard())
	s.SetQueueSize(1)

	block := make(chan struct{})
	blocked := make(chan struct{})
	var once sync.Once
	s.Observe(func(ev input.KeyEvent) bool {
		if ev.VirtualKey == uint32(layouttest.Letter('b')) {
			once.Do(func() {
				close(blocked)
				<-block
			})
		}
		return false
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	hook.typeKeys(layouttest.EN, layouttest.Letter('a'))
	require.Eventually(t, func() bool { return s.Text() == "a" }, time.Second, time.Millisecond)
	hook.typeKeys(layouttest.EN, layouttest.Letter('b'))
	<-blocked
	// Consumer is stuck on "b": one event fits, the rest are dropped.
	hook.typeKeys(layouttest.EN, layouttest.Letter('c'), layouttest.Letter('d'), layouttest.Letter('e'))
	close(block)
	require.NoError(t, s.Stop())

	assert.Equal(t, uint64(2), s.Dropped())
	// The drop happened while "b" was in flight, so "a" was discarded
	// before "b" was applied.
	assert.Equal(t, "bc", s.Text())
}

func TestSessionPauseResume(t *testing.T) {
	s, hook, _ := newSession(t)
	var mu sync.Mutex
	var seen int
	s.Observe(func(input.KeyEvent) bool {
		mu.Lock()
		seen++
		mu.Unlock()
		return false
	})
	require.NoError(t, s.Start(context.Background()))

	hook.typeKeys(layouttest.EN, layouttest.Letter('a'))
	require.Eventually(t, func() bool { return s.Text() == "a" }, time.Second, time.Millisecond)

	s.Pause()
	assert.True(t, s.Paused())
	assert.Empty(t, s.Text())
	hook.typeKeys(layouttest.EN, layouttest.Letter('b'))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == 2
	}, time.Second, time.Millisecond)

	s.Resume()
	assert.False(t, s.Paused())
	hook.typeKeys(layouttest.EN, layouttest.Letter('c'))
	require.NoError(t, s.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, seen)
	assert.Equal(t, "c", s.Text())
}

func TestSessionContextCancelStopsConsumer(t *testing.T) {
	s, hook, rec := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()

	require.NoError(t, s.Stop())
	hook.typeKeys(layouttest.EN, layouttest.Letter('a'))
	assert.Empty(t, rec.all())
}

func TestSessionConsumedEventsSkipChecker(t *testing.T) {
	s, hook, _ := newSession(t)
	s.Observe(func(ev input.KeyEvent) bool {
		return ev.Down && ev.VirtualKey == uint32(layouttest.Letter('b'))
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	hook.typeKeys(layouttest.EN, layouttest.Letter('a'), layouttest.Letter('b'), layouttest.Letter('c'))
	require.Eventually(t, func() bool { return s.Text() == "ac" }, time.Second, time.Millisecond)
}
