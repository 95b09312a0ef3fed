package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/tarpit/internal/frequency"
	"github.com/antoniostano/tarpit/internal/policy"
)

const (
	forbiddenPage = "<html><head><title>Forbidden</title></head><body>Access Denied.</body></html>"
	errorPage     = "<html><head><title>Error</title></head><body>Service temporarily unavailable.</body></html>"
)

func (s *Server) handleTarpit(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	ctx := r.Context()
	ip := clientIP(r)
	logger := s.logger.With("ip", ip, "path", policy.FlattenLine(r.URL.Path))

	obs, observed := s.observe(r, ip, logger)

	if s.hops != nil && ip != "" {
		hop, err := s.hops.Observe(ctx, ip)
		switch {
		case err != nil:
			logger.Error("hop limit check failed", "error", err)
		case hop.Exceeds(s.cfg.MaxHops):
			s.metrics.ObserveHopRejection()
			logger.Warn("tarpit hop limit exceeded", "hops", hop.PriorCount+1, "max_hops", s.cfg.MaxHops, "window", s.cfg.HopWindow)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(forbiddenPage))
			return
		}
	}

	attrs := []any{
		"method", r.Method,
		"user_agent", policy.FlattenLine(r.UserAgent()),
		"referer", policy.FlattenLine(r.Referer()),
		"headers", policy.ScrubHeaders(r.Header),
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, "query", policy.ScrubQuery(r.URL.RawQuery))
	}
	if observed {
		attrs = append(attrs, "prior_count", obs.PriorCount, "seconds_since_last", obs.SecondsSinceLast)
	}
	logger.Info("tarpit hit", attrs...)

	body, err := s.assembler.Assemble(ctx, s.pathRand(r.URL.Path))
	if err != nil {
		logger.Error("assemble tarpit page failed", "error", err)
		body = errorPage
	}

	s.metrics.StreamStarted()
	defer s.metrics.StreamFinished()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := s.streamLines(w, r, body); err != nil {
		logger.Debug("tarpit stream ended early", "error", err, "elapsed", time.Since(started).Round(time.Millisecond))
		return
	}
	s.metrics.ObservePage("http", time.Since(started))
}

// observe records the request in the sliding window. Store failures are
// logged and never block the response.
func (s *Server) observe(r *http.Request, ip string, logger *slog.Logger) (frequency.Observation, bool) {
	if s.freq == nil || ip == "" {
		return frequency.Observation{}, false
	}
	started := time.Now()
	obs, err := s.freq.Observe(r.Context(), ip)
	s.metrics.ObserveFrequency(err, time.Since(started))
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, r.Context().Err()) {
			level = slog.LevelDebug
		}
		logger.Log(r.Context(), level, "frequency observation failed", "error", err)
		return frequency.Observation{}, false
	}
	return obs, true
}

// streamLines writes body one line at a time with a random pause after each.
func (s *Server) streamLines(w http.ResponseWriter, r *http.Request, body string) error {
	flusher, _ := w.(http.Flusher)
	for _, line := range strings.Split(body, "\n") {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		if err := s.sleep(r.Context(), s.streamDelay()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) streamDelay() time.Duration {
	lo, hi := s.cfg.StreamMinDelay, s.cfg.StreamMaxDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// pathRand returns a source seeded from the system seed and the request
// path, so a path always renders the same page.
func (s *Server) pathRand(path string) *rand.Rand {
	pathHash := sha256.Sum256([]byte(path))
	seed := sha256.Sum256([]byte(s.cfg.SystemSeed + "-" + hex.EncodeToString(pathHash[:])))
	return rand.New(rand.NewChaCha8(seed))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
