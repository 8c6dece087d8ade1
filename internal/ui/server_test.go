package ui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbcheck/internal/config"
	"kbcheck/internal/layout"
	"kbcheck/internal/layout/layouttest"
	"kbcheck/internal/presenter"
	"kbcheck/internal/switcher"
)

type suggestions struct {
	mu      sync.Mutex
	s       presenter.Suggestion
	visible bool
}

func (f *suggestions) Last() (presenter.Suggestion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, f.visible
}

func (f *suggestions) show(s presenter.Suggestion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.s, f.visible = s, true
}

type acceptor struct{ sugg *suggestions }

func (a acceptor) Accept(name string) (presenter.Candidate, error) {
	s, ok := a.sugg.Last()
	if !ok {
		return presenter.Candidate{}, switcher.ErrNoSuggestion
	}
	for _, c := range s.Candidates {
		if name == "" || c.Layout == name {
			return c, nil
		}
	}
	return presenter.Candidate{}, switcher.ErrUnknownLayout
}

type fixture struct {
	cfg  *config.Manager
	sugg *suggestions
	srv  *Server
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.toml"), logr.Discard())
	require.NoError(t, err)
	f := &fixture{cfg: cfgMgr, sugg: &suggestions{}}
	reg := layout.NewRegistry(layouttest.Default().Layouts())
	f.srv = NewServer(cfgMgr, reg, f.sugg, acceptor{f.sugg}, logr.Discard())
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIndex(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "kbcheck Settings")
	assert.Contains(t, string(body), f.cfg.Path())

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/missing", "").StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got config.Config
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 5, got.Presenter.MinLength)

	resp = f.do(t, http.MethodPost, "/api/config", `{"presenter":{"min_length":3},"buffer":{"idle_reset":"30s"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cfg := f.cfg.Get()
	assert.Equal(t, 3, cfg.Presenter.MinLength)
	assert.Equal(t, "30s", cfg.Buffer.IdleReset.String())
	assert.True(t, cfg.Presenter.Notify, "fields not posted keep their value")

	_, err := os.Stat(f.cfg.Path())
	assert.NoError(t, err, "settings are saved")
}

func TestConfigRejectsInvalid(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/config", `{"api":{"port":70000}}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/config", `{`).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/config", "").StatusCode)
	assert.Equal(t, 18081, f.cfg.Get().API.Port)
}

func TestLayouts(t *testing.T) {
	f := newFixture(t)

	var names []string
	require.NoError(t, json.NewDecoder(f.do(t, http.MethodGet, "/api/layouts", "").Body).Decode(&names))
	assert.Equal(t, []string{"en-US", "he-IL", "ru-RU"}, names)
}

func TestSuggestionAndAccept(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodGet, "/api/suggestion", "").StatusCode)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/accept", "").StatusCode)

	f.sugg.show(presenter.Suggestion{
		Text:       "ghbdtn",
		Candidates: []presenter.Candidate{{Layout: "ru-RU", Text: "привет"}},
	})

	resp := f.do(t, http.MethodGet, "/api/suggestion", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var s presenter.Suggestion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "ghbdtn", s.Text)

	resp = f.do(t, http.MethodPost, "/api/accept?layout=ru-RU", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var c presenter.Candidate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&c))
	assert.Equal(t, "привет", c.Text)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/accept?layout=de-DE", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/accept", "").StatusCode)
}

func TestOpenStartsOnce(t *testing.T) {
	f := newFixture(t)

	opened := make(chan string, 2)
	prev := openBrowser
	openBrowser = func(url string, _ logr.Logger) { opened <- url }
	t.Cleanup(func() { openBrowser = prev })

	url, err := f.srv.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.srv.Stop(context.Background()) })
	assert.True(t, strings.HasPrefix(url, "http://127.0.0.1:"))
	assert.Equal(t, url, <-opened)

	again, err := f.srv.Open()
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, url, <-opened)

	resp, err := http.Get(url + "/api/layouts")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.srv.Stop(context.Background()))
	assert.NoError(t, f.srv.Stop(context.Background()))
}
