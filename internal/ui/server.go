// Package ui provides the settings user interface.
package ui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"kbcheck/internal/config"
	"kbcheck/internal/layout"
	"kbcheck/internal/presenter"
	"kbcheck/internal/switcher"
)

// Suggestions reports the suggestion currently shown.
type Suggestions interface {
	Last() (presenter.Suggestion, bool)
}

// Acceptor applies a suggestion.
type Acceptor interface {
	Accept(layoutName string) (presenter.Candidate, error)
}

// Server provides a web-based settings page
type Server struct {
	configMgr   *config.Manager
	registry    *layout.Registry
	suggestions Suggestions
	acceptor    Acceptor
	log         logr.Logger

	mu     sync.Mutex
	server *http.Server
	url    string
}

// NewServer creates a new UI server
func NewServer(cfgMgr *config.Manager, reg *layout.Registry, sugg Suggestions, acc Acceptor, log logr.Logger) *Server {
	return &Server{
		configMgr:   cfgMgr,
		registry:    reg,
		suggestions: sugg,
		acceptor:    acc,
		log:         log,
	}
}

// Handler returns the settings routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/layouts", s.handleLayouts)
	mux.HandleFunc("/api/suggestion", s.handleSuggestion)
	mux.HandleFunc("/api/accept", s.handleAccept)
	return mux
}

// Open starts the server on a free local port if needed and opens the page
// in the browser.
func (s *Server) Open() (string, error) {
	url, err := s.start()
	if err != nil {
		return "", err
	}
	go openBrowser(url, s.log)
	return url, nil
}

func (s *Server) start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return s.url, nil
	}

	// Find an available port
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	port := listener.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://127.0.0.1:%d", port)
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info("Starting settings UI", "url", s.url)
	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "Settings UI stopped")
		}
	}(s.server)
	return s.url, nil
}

// Stop stops the UI server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// openBrowser is replaced in tests.
var openBrowser = func(url string, log logr.Logger) {
	var err error
	switch runtime.GOOS {
	case "darwin":
		err = exec.Command("open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		err = exec.Command("xdg-open", url).Start()
	}
	if err != nil {
		log.Error(err, "Failed to open browser", "url", url)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, map[string]string{"Path": s.configMgr.Path()}); err != nil {
		s.log.Error(err, "Failed to render settings page")
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.configMgr.Get())
	case http.MethodPost:
		// Fields missing from the body keep their current value.
		cfg := s.configMgr.Get()
		if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.configMgr.Set(cfg); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.configMgr.Save(); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.log.Info("Settings saved from UI")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLayouts(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	for _, l := range s.registry.Layouts() {
		names = append(names, l.Name)
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	sugg, ok := s.suggestions.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sugg)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	c, err := s.acceptor.Accept(r.URL.Query().Get("layout"))
	switch {
	case errors.Is(err, switcher.ErrNoSuggestion):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, switcher.ErrUnknownLayout):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, c)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

var tmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>kbcheck Settings</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 100%);
            color: #e2e8f0;
            min-height: 100vh;
            padding: 2rem;
        }
        .container { max-width: 760px; margin: 0 auto; }
        h1 { font-size: 1.75rem; margin-bottom: 0.25rem; color: #a5b4fc; }
        .path { font-size: 0.8rem; color: #94a3b8; margin-bottom: 1.5rem; }
        .card {
            background: rgba(255,255,255,0.05);
            border: 1px solid rgba(255,255,255,0.1);
            border-radius: 16px;
            padding: 1.25rem;
            margin-bottom: 1.25rem;
        }
        .card h2 { font-size: 1.1rem; margin-bottom: 0.75rem; color: #a5b4fc; }
        .row { display: flex; align-items: center; gap: 0.75rem; margin-bottom: 0.5rem; }
        .row label { flex: 0 0 14rem; font-size: 0.875rem; color: #94a3b8; }
        input[type="text"], input[type="number"] {
            background: rgba(255,255,255,0.1);
            border: 1px solid rgba(255,255,255,0.2);
            border-radius: 8px;
            padding: 0.4rem;
            color: #e2e8f0;
            flex: 1;
        }
        .btn {
            background: linear-gradient(135deg, #667eea 0%, #764ba2 100%);
            border: none;
            border-radius: 8px;
            padding: 0.6rem 1.25rem;
            color: white;
            font-weight: 600;
            cursor: pointer;
        }
        .btn-small { padding: 0.3rem 0.7rem; font-size: 0.8rem; }
        #suggestion .text { font-size: 1.1rem; margin-bottom: 0.5rem; }
        #suggestion .cand { display: flex; justify-content: space-between; margin-bottom: 0.35rem; }
        #status-bar {
            position: fixed; bottom: 2rem; right: 2rem;
            padding: 0.75rem 1.25rem;
            background: rgba(0,0,0,0.9);
            border-radius: 12px;
            display: none;
        }
    </style>
</head>
<body>
<div class="container">
    <h1>kbcheck</h1>
    <div class="path">{{.Path}}</div>

    <div class="card">
        <h2>Current suggestion</h2>
        <div id="suggestion">No suggestion</div>
    </div>

    <div class="card">
        <h2>General</h2>
        <div class="row"><label>Start on login</label><input type="checkbox" data-field="general.start_on_login"></div>
        <div class="row"><label>Accept hotkey</label><input type="text" data-field="general.accept_hotkey"></div>
        <div class="row"><label>Reset hotkey</label><input type="text" data-field="general.reset_hotkey"></div>
        <div class="row"><label>Pause hotkey</label><input type="text" data-field="general.pause_hotkey"></div>
    </div>

    <div class="card">
        <h2>Typing</h2>
        <div class="row"><label>Max length</label><input type="number" data-field="buffer.max_length"></div>
        <div class="row"><label>Reset keys (comma separated)</label><input type="text" data-field="buffer.reset_keys" data-list></div>
        <div class="row"><label>Reset on focus change</label><input type="checkbox" data-field="buffer.reset_on_focus_change"></div>
        <div class="row"><label>Idle reset (e.g. 30s, 0s off)</label><input type="text" data-field="buffer.idle_reset"></div>
        <div class="row"><label>Only lossless conversions</label><input type="checkbox" data-field="buffer.strict_candidates"></div>
    </div>

    <div class="card">
        <h2>Suggestions</h2>
        <div class="row"><label>Minimum length</label><input type="number" data-field="presenter.min_length"></div>
        <div class="row"><label>Desktop notifications</label><input type="checkbox" data-field="presenter.notify"></div>
        <div class="row"><label>Notification interval</label><input type="text" data-field="presenter.notify_interval"></div>
        <div class="row"><label>Switch layout on accept</label><input type="checkbox" data-field="actions.switch_layout"></div>
        <div class="row"><label>Retype text on accept</label><input type="checkbox" data-field="actions.retype"></div>
        <div class="row"><label>Copy to clipboard on accept</label><input type="checkbox" data-field="actions.copy_to_clipboard"></div>
    </div>

    <button class="btn" onclick="save()">Save</button>
</div>
<div id="status-bar"></div>

<script>
let config = {};

function get(path) { return path.split('.').reduce((o, k) => o[k], config); }
function set(path, v) {
    const keys = path.split('.');
    const last = keys.pop();
    keys.reduce((o, k) => o[k], config)[last] = v;
}

function showStatus(msg) {
    const bar = document.getElementById('status-bar');
    bar.textContent = msg;
    bar.style.display = 'block';
    setTimeout(() => bar.style.display = 'none', 3000);
}

async function load() {
    const res = await fetch('/api/config');
    config = await res.json();
    document.querySelectorAll('[data-field]').forEach(el => {
        const v = get(el.dataset.field);
        if (el.type === 'checkbox') el.checked = v;
        else if (el.dataset.list !== undefined) el.value = (v || []).join(', ');
        else el.value = v;
    });
}

async function save() {
    document.querySelectorAll('[data-field]').forEach(el => {
        let v = el.value;
        if (el.type === 'checkbox') v = el.checked;
        else if (el.type === 'number') v = parseInt(v, 10) || 0;
        else if (el.dataset.list !== undefined) v = v.split(',').map(s => s.trim()).filter(s => s);
        set(el.dataset.field, v);
    });
    const res = await fetch('/api/config', {method: 'POST', body: JSON.stringify(config)});
    const body = await res.json();
    showStatus(res.ok ? 'Saved' : 'Error: ' + body.error);
}

async function accept(layout) {
    const res = await fetch('/api/accept?layout=' + encodeURIComponent(layout), {method: 'POST'});
    if (!res.ok) showStatus('Error: ' + (await res.json()).error);
}

async function poll() {
    const box = document.getElementById('suggestion');
    try {
        const res = await fetch('/api/suggestion');
        if (res.status === 204) {
            box.textContent = 'No suggestion';
            return;
        }
        const s = await res.json();
        box.innerHTML = '';
        const text = document.createElement('div');
        text.className = 'text';
        text.textContent = s.text;
        box.appendChild(text);
        s.candidates.forEach(c => {
            const row = document.createElement('div');
            row.className = 'cand';
            const label = document.createElement('span');
            label.textContent = c.layout + ': ' + c.text;
            const btn = document.createElement('button');
            btn.className = 'btn btn-small';
            btn.textContent = 'Use';
            btn.onclick = () => accept(c.layout);
            row.appendChild(label);
            row.appendChild(btn);
            box.appendChild(row);
        });
    } catch (e) {
        box.textContent = 'kbcheck is not running';
    }
}

load();
poll();
setInterval(poll, 1000);
</script>
</body>
</html>
`))
