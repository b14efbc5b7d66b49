// Package httpapi implements the thin HTTP surface: job submission,
// session status/progress/results polling, pause/resume/continue,
// session deletion, and the supplemental provider-usage and health
// endpoints. It is deliberately thin — request handlers decode,
// delegate to the engine Facade and Session Manager, and encode — built
// on net/http.ServeMux and wrapped with this codebase's
// LoggingMiddleware, matching this codebase's own HTTP surface
// conventions rather than pulling in a router framework.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/marketlens/engine/core"
	"github.com/marketlens/engine/engine"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/session"
	"github.com/marketlens/engine/storage"
)

// Server wires the Facade, Session Manager, Checkpoint Store, and
// Provider Registry classes into an http.Handler.
type Server struct {
	facade     *engine.Facade
	sessions   *session.Manager
	checkpoint *storage.CheckpointStore
	providers  *providerreg.Registry
	classes    []providerreg.Class
	logger     core.Logger
	ready      func() bool

	mux *http.ServeMux
}

// Config configures a new Server.
type Config struct {
	Facade     *engine.Facade
	Sessions   *session.Manager
	Checkpoint *storage.CheckpointStore
	Providers  *providerreg.Registry
	Classes    []providerreg.Class
	Logger     core.Logger
	Ready      func() bool // used by /healthz; nil means always ready
}

// NewServer builds the HTTP handler tree.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.Ready == nil {
		cfg.Ready = func() bool { return true }
	}
	s := &Server{
		facade:     cfg.Facade,
		sessions:   cfg.Sessions,
		checkpoint: cfg.Checkpoint,
		providers:  cfg.Providers,
		classes:    cfg.Classes,
		logger:     cfg.Logger,
		ready:      cfg.Ready,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	mux := http.NewServeMux()
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/sessions", s.handleSessionsRoot)
	mux.HandleFunc("/sessions/clear", s.handleSessionsClear)
	mux.HandleFunc("/sessions/", s.handleSessionSubroutes)
	mux.HandleFunc("/providers", s.handleProviders)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux = mux
}

// ServeHTTP satisfies http.Handler, wrapped in the shared logging
// middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	core.LoggingMiddleware(s.logger, false)(s.mux).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps an engine error kind onto the corresponding HTTP
// status code.
func statusForError(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidationFailed:
		if errors.Is(err, errs.ErrInvalidTransition) {
			return http.StatusConflict
		}
		if errors.Is(err, errs.ErrSessionNotFound) || errors.Is(err, errs.ErrProviderNotFound) {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case errs.KindStorage:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var input map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sessionID, err := s.facade.Submit(r.Context(), input)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "running"})
}

func (s *Server) handleSessionsRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	summaries, err := s.checkpoint.ListSessions(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSessionsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	var body struct {
		Confirm bool `json:"confirm"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !body.Confirm {
		writeError(w, http.StatusBadRequest, "confirm flag required")
		return
	}
	summaries, err := s.checkpoint.ListSessions(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	for _, sum := range summaries {
		if err := s.checkpoint.Delete(r.Context(), sum.SessionID); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": len(summaries)})
}

func (s *Server) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "session id required")
		return
	}
	sessionID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		s.handleSessionDelete(w, r, sessionID)
	case action == "status" && r.Method == http.MethodGet:
		s.handleSessionStatus(w, r, sessionID)
	case action == "progress" && r.Method == http.MethodGet:
		s.handleSessionProgress(w, r, sessionID)
	case action == "results" && r.Method == http.MethodGet:
		s.handleSessionResults(w, r, sessionID)
	case action == "pause" && r.Method == http.MethodPost:
		s.handleSessionTransition(w, r, sessionID, s.sessions.Pause)
	case action == "resume" && r.Method == http.MethodPost:
		s.handleSessionTransition(w, r, sessionID, s.sessions.Resume)
	case action == "continue" && r.Method == http.MethodPost:
		s.handleSessionTransition(w, r, sessionID, s.sessions.ContinueFromPersisted)
	default:
		writeError(w, http.StatusNotFound, "unknown route")
	}
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionProgress(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap.LastProgress)
}

func (s *Server) handleSessionResults(w http.ResponseWriter, r *http.Request, id string) {
	report, state, err := s.facade.GetReport(r.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	if state == engine.ReportNotFound {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.checkpoint.Delete(r.Context(), id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleSessionTransition(w http.ResponseWriter, r *http.Request, id string, transition func(ctx context.Context, sessionID string) error) {
	if err := transition(r.Context(), id); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	out := make(map[providerreg.Class][]providerreg.Snapshot, len(s.classes))
	for _, class := range s.classes {
		out[class] = s.providers.Snapshot(class)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.ready() {
		writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
