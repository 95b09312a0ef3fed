package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/tarpit/internal/config"
	"github.com/antoniostano/tarpit/internal/frequency"
	"github.com/antoniostano/tarpit/internal/markov"
	"github.com/antoniostano/tarpit/internal/observability"
	"github.com/antoniostano/tarpit/internal/page"
	"github.com/antoniostano/tarpit/internal/session"
	"github.com/antoniostano/tarpit/internal/window"
)

// Deps are the collaborators the server needs. Hops may be nil, which
// disables the hop limit. A nil Sessions gets a private manager.
type Deps struct {
	Frequency *frequency.Tracker
	Hops      *frequency.Tracker
	Text      page.TextSource
	Windows   window.Store
	Markov    markov.Store
	Sessions  *session.Manager
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type Server struct {
	cfg       config.Config
	freq      *frequency.Tracker
	hops      *frequency.Tracker
	text      page.TextSource
	assembler *page.Assembler
	windows   window.Store
	markov    markov.Store
	sessions  *session.Manager
	metrics   *observability.Metrics
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewManager(cfg.WSMaxDuration+time.Minute, 10*time.Minute)
	}
	s := &Server{
		cfg:      cfg,
		freq:     deps.Frequency,
		hops:     deps.Hops,
		text:     deps.Text,
		windows:  deps.Windows,
		markov:   deps.Markov,
		sessions: sessions,
		metrics:  deps.Metrics,
		logger:   logger,
		sleep:    sleepContext,
		assembler: page.NewAssembler(deps.Text, page.Config{
			Sentences: cfg.SentencesPerPage,
			LinkCount: cfg.FakeLinkCount,
			LinkDepth: cfg.FakeLinkDepth,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/training/runs", s.handleTrainingRuns)
	r.Get("/v1/streams", s.handleStreams)

	r.Get("/tarpit/ws", s.handleTrickleWS)
	r.Get("/tarpit", s.handleTarpit)
	r.Get("/tarpit/*", s.handleTarpit)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"markov_store_mode": s.markovStoreMode(),
		"hop_limit_enabled": s.hops != nil,
		"max_hops":          s.cfg.MaxHops,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true
	if s.windows != nil {
		checks["window_store"] = "ok"
		if err := s.windows.Ping(ctx); err != nil {
			checks["window_store"] = err.Error()
			ready = false
		}
	}
	if s.markov != nil {
		checks["markov_store"] = "ok"
		if err := s.markov.Ping(ctx); err != nil {
			checks["markov_store"] = err.Error()
			ready = false
		}
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":            status,
		"checks":            checks,
		"markov_store_mode": s.markovStoreMode(),
	})
}

func (s *Server) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	recorder, ok := s.markov.(markov.RunRecorder)
	if !ok {
		respondError(w, http.StatusNotImplemented, "unavailable", "markov store does not keep a run ledger")
		return
	}
	limit, ok := parseLimit(w, r, 20)
	if !ok {
		return
	}
	runs, err := recorder.RecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list training runs failed", "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", "could not list training runs")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session.ListResponse{
		Active:   s.sessions.ActiveCount(),
		Sessions: s.sessions.List(limit),
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 500")
		return 0, false
	}
	return n, true
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

func (s *Server) markovStoreMode() string {
	if s.markov == nil {
		return "disabled"
	}
	return markov.StoreMode(s.markov)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
