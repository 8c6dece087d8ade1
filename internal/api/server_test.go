package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kbcheck/internal/layout"
	"kbcheck/internal/layout/layouttest"
	"kbcheck/internal/presenter"
	"kbcheck/internal/protocol"
	"kbcheck/internal/switcher"
)

type fakeMonitor struct {
	mu      sync.Mutex
	paused  bool
	resets  int
	running bool
}

func (m *fakeMonitor) Running() bool { m.mu.Lock(); defer m.mu.Unlock(); return m.running }
func (m *fakeMonitor) Paused() bool  { m.mu.Lock(); defer m.mu.Unlock(); return m.paused }
func (m *fakeMonitor) Pause()        { m.mu.Lock(); defer m.mu.Unlock(); m.paused = true }
func (m *fakeMonitor) Resume()       { m.mu.Lock(); defer m.mu.Unlock(); m.paused = false }
func (m *fakeMonitor) Reset()        { m.mu.Lock(); defer m.mu.Unlock(); m.resets++ }

func (m *fakeMonitor) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets
}

type fakeSuggestions struct {
	mu      sync.Mutex
	s       presenter.Suggestion
	visible bool
}

func (f *fakeSuggestions) Last() (presenter.Suggestion, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s, f.visible
}

func (f *fakeSuggestions) setVisible(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = v
}

type fakeAcceptor struct {
	mu       sync.Mutex
	accepted []string
	err      error
}

func (a *fakeAcceptor) Accept(name string) (presenter.Candidate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return presenter.Candidate{}, a.err
	}
	a.accepted = append(a.accepted, name)
	return presenter.Candidate{Layout: "ru-RU", Text: "привет"}, nil
}

func (a *fakeAcceptor) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *fakeAcceptor) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.accepted...)
}

type fixture struct {
	srv      *Server
	http     *httptest.Server
	monitor  *fakeMonitor
	sugg     *fakeSuggestions
	acceptor *fakeAcceptor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		monitor: &fakeMonitor{running: true},
		sugg: &fakeSuggestions{visible: true, s: presenter.Suggestion{
			Text:       "ghbdtn",
			Candidates: []presenter.Candidate{{Layout: "ru-RU", Text: "привет"}},
		}},
		acceptor: &fakeAcceptor{},
	}
	f.srv = NewServer(Deps{
		Monitor:     f.monitor,
		Suggestions: f.sugg,
		Acceptor:    f.acceptor,
		Registry:    layout.NewRegistry(layouttest.Default().Layouts()),
		Version:     "test",
	}, logr.Discard())
	f.http = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.http.Close()
		_ = f.srv.Shutdown(context.Background())
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.http.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status protocol.StatusPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Running)
	assert.False(t, status.Paused)
	assert.True(t, status.SuggestionVisible)
	assert.Equal(t, []string{"en-US", "he-IL", "ru-RU"}, status.Layouts)
	assert.Equal(t, "test", status.Version)
}

func TestSuggestion(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/suggestion")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p protocol.SuggestionPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "ghbdtn", p.Text)
	assert.Equal(t, []protocol.Candidate{{Layout: "ru-RU", Text: "привет"}}, p.Candidates)

	f.sugg.setVisible(false)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodGet, "/api/suggestion").StatusCode)
}

func TestActions(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/pause").StatusCode)
	assert.True(t, f.monitor.Paused())
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/resume").StatusCode)
	assert.False(t, f.monitor.Paused())
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/reset").StatusCode)
	assert.Equal(t, 1, f.monitor.resetCount())

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/reset").StatusCode)
}

func TestAccept(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/accept?layout=ru-RU")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "привет", body["text"])
	assert.Equal(t, []string{"ru-RU"}, f.acceptor.names())

	f.acceptor.fail(switcher.ErrNoSuggestion)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/accept").StatusCode)
	f.acceptor.fail(switcher.ErrUnknownLayout)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/accept?layout=xx").StatusCode)
}

func TestToken(t *testing.T) {
	f := newFixture(t)
	f.srv.SetToken("s3cret")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/status").StatusCode)

	req, err := http.NewRequest(http.MethodGet, f.http.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	_, wsResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, wsResp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=s3cret", nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, protocol.TypeHello, readMessage(t, conn).Type)
}

func TestFeedBroadcastsSuggestions(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	hello := readMessage(t, conn)
	require.Equal(t, protocol.TypeHello, hello.Type)
	var hp protocol.HelloPayload
	require.NoError(t, hello.DecodePayload(&hp))
	assert.NotEmpty(t, hp.ClientID)
	assert.Equal(t, "test", hp.Version)

	f.srv.Show(presenter.Suggestion{Text: "ghbdtn", Candidates: []presenter.Candidate{{Layout: "ru-RU", Text: "привет"}}})
	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeSuggestion, msg.Type)
	var sp protocol.SuggestionPayload
	require.NoError(t, msg.DecodePayload(&sp))
	assert.Equal(t, "ghbdtn", sp.Text)

	f.srv.Hide()
	assert.Equal(t, protocol.TypeHide, readMessage(t, conn).Type)
}

func TestFeedClientRequests(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn) // hello

	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypeStatusRequest}))
	msg := readMessage(t, conn)
	require.Equal(t, protocol.TypeStatus, msg.Type)
	var status protocol.StatusPayload
	require.NoError(t, msg.DecodePayload(&status))
	assert.Equal(t, 1, status.Clients)

	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypeAccept, Payload: protocol.AcceptPayload{Layout: "ru-RU"}}))
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypeReset}))
	require.Eventually(t, func() bool {
		return len(f.acceptor.names()) == 1 && f.monitor.resetCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.acceptor.fail(switcher.ErrNoSuggestion)
	require.NoError(t, conn.WriteJSON(protocol.Message{Type: protocol.TypeAccept}))
	msg = readMessage(t, conn)
	require.Equal(t, protocol.TypeError, msg.Type)
	var ep protocol.ErrorPayload
	require.NoError(t, msg.DecodePayload(&ep))
	assert.Equal(t, protocol.TypeAccept, ep.Request)
}

func TestFeedRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://example.com"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:3000"}})
	require.NoError(t, err)
	conn.Close()
}

func TestShutdownClosesFeed(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	readMessage(t, conn)

	require.NoError(t, f.srv.Shutdown(context.Background()))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after shutdown is a no-op.
	f.srv.Show(presenter.Suggestion{Text: "x"})
}
