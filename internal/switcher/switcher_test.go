package switcher

import (
	"errors"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbcheck/internal/layout"
	"kbcheck/internal/layout/layouttest"
	"kbcheck/internal/presenter"
)

type fakeHost struct {
	switched []layout.Handle
	err      error
}

func (h *fakeHost) SwitchLayout(l layout.Handle) error {
	h.switched = append(h.switched, l)
	return h.err
}

type fakeInjector struct {
	backspaces int
	text       string
	err        error
}

func (i *fakeInjector) InjectBackspaces(n int) error {
	i.backspaces += n
	return i.err
}

func (i *fakeInjector) InjectText(s string) error {
	i.text += s
	return nil
}

type fakeSuggestions struct {
	s       presenter.Suggestion
	visible bool
}

func (f *fakeSuggestions) Last() (presenter.Suggestion, bool) { return f.s, f.visible }

type fakeBuffer struct{ resets int }

func (b *fakeBuffer) Reset() { b.resets++ }

type fixture struct {
	sw       *Switcher
	host     *fakeHost
	injector *fakeInjector
	sugg     *fakeSuggestions
	buffer   *fakeBuffer
	clip     []string
}

func newFixture() *fixture {
	f := &fixture{
		host:     &fakeHost{},
		injector: &fakeInjector{},
		sugg: &fakeSuggestions{visible: true, s: presenter.Suggestion{
			Text: "ghbdtn",
			Candidates: []presenter.Candidate{
				{Layout: "he-IL", Text: "עינגאמ"},
				{Layout: "ru-RU", Text: "привет"},
			},
		}},
		buffer: &fakeBuffer{},
	}
	reg := layout.NewRegistry(layouttest.Default().Layouts())
	f.sw = New(reg, f.host, f.injector, f.sugg, f.buffer, logr.Discard())
	f.sw.SetClipboard(func(s string) error {
		f.clip = append(f.clip, s)
		return nil
	})
	return f
}

func TestAcceptSwitchesLayout(t *testing.T) {
	f := newFixture()
	var accepted []presenter.Candidate
	f.sw.SetOnSwitch(func(c presenter.Candidate) { accepted = append(accepted, c) })

	c, err := f.sw.Accept("ru-RU")
	require.NoError(t, err)

	assert.Equal(t, presenter.Candidate{Layout: "ru-RU", Text: "привет"}, c)
	assert.Equal(t, []layout.Handle{layouttest.RU}, f.host.switched)
	assert.Equal(t, 1, f.buffer.resets)
	assert.Zero(t, f.injector.backspaces, "retype is off by default")
	assert.Empty(t, f.clip)
	assert.Equal(t, []presenter.Candidate{c}, accepted)
}

func TestAcceptDefaultsToFirstCandidate(t *testing.T) {
	f := newFixture()

	c, err := f.sw.Accept("")
	require.NoError(t, err)
	assert.Equal(t, "he-IL", c.Layout)
	assert.Equal(t, []layout.Handle{layouttest.HE}, f.host.switched)
}

func TestAcceptRetypesAndCopies(t *testing.T) {
	f := newFixture()
	f.sw.SetOptions(Options{Retype: true, CopyToClipboard: true})

	_, err := f.sw.Accept("ru-RU")
	require.NoError(t, err)

	assert.Empty(t, f.host.switched)
	assert.Equal(t, 6, f.injector.backspaces)
	assert.Equal(t, "привет", f.injector.text)
	assert.Equal(t, []string{"привет"}, f.clip)
}

func TestAcceptWithoutSuggestion(t *testing.T) {
	f := newFixture()
	f.sugg.visible = false

	_, err := f.sw.Accept("")
	assert.ErrorIs(t, err, ErrNoSuggestion)
	assert.Zero(t, f.buffer.resets)
	assert.Empty(t, f.host.switched)
}

func TestAcceptUnknownLayout(t *testing.T) {
	f := newFixture()

	_, err := f.sw.Accept("de-DE")
	assert.ErrorIs(t, err, ErrUnknownLayout)
	assert.Zero(t, f.buffer.resets)
}

func TestAcceptCandidateMissingFromRegistry(t *testing.T) {
	f := newFixture()
	f.sugg.s.Candidates = []presenter.Candidate{{Layout: "xx-XX", Text: "?"}}

	_, err := f.sw.Accept("")
	assert.ErrorIs(t, err, ErrUnknownLayout)
}

func TestAcceptJoinsStepErrorsAndStillResets(t *testing.T) {
	f := newFixture()
	f.host.err = errors.New("no foreground window")
	f.injector.err = errors.New("blocked")
	f.sw.SetOptions(Options{SwitchLayout: true, Retype: true})
	var reported error
	f.sw.SetOnError(func(err error) { reported = err })

	_, err := f.sw.Accept("ru-RU")

	require.Error(t, err)
	assert.ErrorIs(t, err, f.host.err)
	assert.ErrorIs(t, err, f.injector.err)
	assert.Equal(t, err, reported)
	assert.Equal(t, 1, f.buffer.resets)
}

func TestCopy(t *testing.T) {
	f := newFixture()

	c, err := f.sw.Copy("he-IL")
	require.NoError(t, err)
	assert.Equal(t, "עינגאמ", c.Text)
	assert.Equal(t, []string{"עינגאמ"}, f.clip)
	assert.Zero(t, f.buffer.resets)
	assert.Empty(t, f.host.switched)

	f.sw.SetClipboard(func(string) error { return errors.New("clipboard busy") })
	_, err = f.sw.Copy("")
	assert.Error(t, err)
}
