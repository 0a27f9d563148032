package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/callcaster/internal/config"
	"github.com/ent0n29/callcaster/internal/history"
	"github.com/ent0n29/callcaster/internal/observability"
	"github.com/ent0n29/callcaster/internal/session"
)

// SessionView exposes the published call state.
type SessionView interface {
	Snapshot() session.Snapshot
}

// BridgeStatus reports the messaging bridge connection.
type BridgeStatus interface {
	Connected() bool
	SelfID() int64
}

type Options struct {
	Config   config.Config
	Sessions SessionView
	Bridge   BridgeStatus
	Metrics  *observability.Metrics
	History  history.Store
	// Pending returns the reaper backlog.
	Pending func() int
	Backend string
	Decoder string
	Voice   string
}

// Server is the loopback status API: health, metrics, call state and recent history.
type Server struct {
	opts  Options
	ready atomic.Bool
}

func New(opts Options) *Server {
	return &Server{opts: opts}
}

// SetReady flips /readyz once the event loop is running.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)

	r.Get("/v1/session", s.handleSession)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/history", s.handleHistory)
	r.Get("/v1/checks", s.handleChecks)
	r.Get("/v1/voices", s.handleListVoices)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"history_store": s.historyMode(),
		"tts_backend":   s.opts.Backend,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"bridge_connected": s.opts.Bridge != nil && s.opts.Bridge.Connected(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Metrics == nil {
		respondError(w, http.StatusNotFound, "metrics_disabled", "metrics are not configured")
		return
	}
	s.opts.Metrics.Handler().ServeHTTP(w, r)
}

type sessionResponse struct {
	Status        session.Status `json:"status"`
	ActiveCallID  int64          `json:"active_call_id,omitempty"`
	TargetCallID  int64          `json:"target_call_id,omitempty"`
	InCall        bool           `json:"in_call"`
	Played        uint64         `json:"played"`
	Dropped       uint64         `json:"dropped"`
	Failed        uint64         `json:"failed"`
	UpdatedAt     time.Time      `json:"updated_at"`
	PendingFiles  int            `json:"pending_files"`
	BridgeOnline  bool           `json:"bridge_connected"`
	ControlChatID int64          `json:"control_chat_id,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "session controller not running")
		return
	}
	snap := s.opts.Sessions.Snapshot()
	out := sessionResponse{
		Status:       snap.Status,
		ActiveCallID: snap.ActiveCallID,
		TargetCallID: snap.TargetCallID,
		InCall:       snap.InCall(),
		Played:       snap.Played,
		Dropped:      snap.Dropped,
		Failed:       snap.Failed,
		UpdatedAt:    snap.UpdatedAt,
	}
	if s.opts.Pending != nil {
		out.PendingFiles = s.opts.Pending()
	}
	if s.opts.Bridge != nil {
		out.BridgeOnline = s.opts.Bridge.Connected()
		out.ControlChatID = s.opts.Bridge.SelfID()
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		respondJSON(w, http.StatusOK, map[string]any{"records": []history.Record{}})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	records, err := s.opts.History.Recent(ctx, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) historyMode() string {
	switch s.opts.History.(type) {
	case nil:
		return "disabled"
	case *history.PostgresStore:
		return "postgres"
	default:
		return "in-memory"
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
