// Package api provides the local HTTP API and suggestion feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"kbcheck/internal/layout"
	"kbcheck/internal/presenter"
	"kbcheck/internal/protocol"
	"kbcheck/internal/switcher"
)

// Monitor is the keyboard session as seen by the API.
type Monitor interface {
	Running() bool
	Paused() bool
	Pause()
	Resume()
	Reset()
}

// Suggestions exposes the suggestion on screen.
type Suggestions interface {
	Last() (presenter.Suggestion, bool)
}

// Acceptor applies a suggestion.
type Acceptor interface {
	Accept(layoutName string) (presenter.Candidate, error)
}

// Deps are the components the API controls.
type Deps struct {
	Monitor     Monitor
	Suggestions Suggestions
	Acceptor    Acceptor
	Registry    *layout.Registry
	Version     string
}

// Server provides the HTTP API for local control
type Server struct {
	deps Deps
	log  logr.Logger
	hub  *WSManager

	mu     sync.RWMutex
	token  string
	server *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps, log logr.Logger) *Server {
	s := &Server{deps: deps, log: log}
	s.hub = newWSManager(s, log.WithName("ws"))
	go s.hub.start()
	return s
}

// SetToken changes the bearer token. An empty token disables auth.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Server) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Handler returns the API routes with auth and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/layouts", s.handleLayouts)
	mux.HandleFunc("/api/suggestion", s.handleSuggestion)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/accept", s.handleAccept)
	mux.HandleFunc("/ws", s.hub.handleWebSocket)
	return s.authMiddleware(s.recoverMiddleware(mux))
}

// Start serves on 127.0.0.1:port until Shutdown. It blocks.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It blocks.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("Starting API server", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and disconnects feed clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	s.hub.stop()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Show implements presenter.Display by broadcasting to feed clients.
func (s *Server) Show(sugg presenter.Suggestion) {
	s.hub.Broadcast(protocol.Message{Type: protocol.TypeSuggestion, Payload: suggestionPayload(sugg)})
}

// Hide implements presenter.Display.
func (s *Server) Hide() {
	s.hub.Broadcast(protocol.Message{Type: protocol.TypeHide})
}

func suggestionPayload(sugg presenter.Suggestion) protocol.SuggestionPayload {
	p := protocol.SuggestionPayload{
		Text:       sugg.Text,
		Candidates: make([]protocol.Candidate, len(sugg.Candidates)),
		At:         sugg.At,
	}
	for i, c := range sugg.Candidates {
		p.Candidates[i] = protocol.Candidate{Layout: c.Layout, Text: c.Text}
	}
	return p
}

func (s *Server) status() protocol.StatusPayload {
	_, visible := s.deps.Suggestions.Last()
	return protocol.StatusPayload{
		Running:           s.deps.Monitor.Running(),
		Paused:            s.deps.Monitor.Paused(),
		Layouts:           s.layoutNames(),
		SuggestionVisible: visible,
		Clients:           s.hub.count(),
		Version:           s.deps.Version,
	}
}

func (s *Server) layoutNames() []string {
	layouts := s.deps.Registry.Layouts()
	names := make([]string, len(layouts))
	for i, l := range layouts {
		names[i] = l.Name
	}
	return names
}

// recoverMiddleware prevents panics from crashing the whole server
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error(fmt.Errorf("%v", err), "Recovered from panic", "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the API token if configured. Browsers cannot set
// headers on websocket requests, so the feed also accepts ?token=.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.V(1).Info("API request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)

		// Skip auth for health check
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		if token := s.currentToken(); token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if r.URL.Path == "/ws" && got == "" {
				got = r.URL.Query().Get("token")
			}
			if got != token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth handles GET /health (for monitoring)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

// handleLayouts handles GET /api/layouts
func (s *Server) handleLayouts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Registry.Layouts())
}

// handleSuggestion handles GET /api/suggestion. 204 means nothing is shown.
func (s *Server) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sugg, ok := s.deps.Suggestions.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, suggestionPayload(sugg))
}

func (s *Server) postAction(name string, action func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.log.Info("API action", "action", name)
		action()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleReset handles POST /api/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.postAction("reset", s.deps.Monitor.Reset)(w, r)
}

// handlePause handles POST /api/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.postAction("pause", s.deps.Monitor.Pause)(w, r)
}

// handleResume handles POST /api/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.postAction("resume", s.deps.Monitor.Resume)(w, r)
}

// handleAccept handles POST /api/accept?layout=<name>
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c, err := s.deps.Acceptor.Accept(r.URL.Query().Get("layout"))
	switch {
	case errors.Is(err, switcher.ErrNoSuggestion):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, switcher.ErrUnknownLayout):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.log.Error(err, "Accept failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"layout": c.Layout,
		"text":   c.Text,
	})
}
