// Package frequency scores how aggressively a client is requesting pages by
// keeping an exact sliding window of its recent request timestamps.
package frequency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/antoniostano/tarpit/internal/window"
)

// ErrRetrieval is returned when the window store could not be read or written.
var ErrRetrieval = errors.New("frequency retrieval failed")

// ErrInvalidWindow is returned for non-positive window or TTL values.
var ErrInvalidWindow = errors.New("window and ttl must be positive")

// Observation is the result of recording one request.
type Observation struct {
	Key string `json:"key"`
	// PriorCount is the number of earlier requests inside the window.
	PriorCount int64 `json:"prior_count"`
	// SecondsSinceLast is the gap to the previous request, rounded to
	// milliseconds, or -1 when there is none in the window.
	SecondsSinceLast float64   `json:"seconds_since_last"`
	ObservedAt       time.Time `json:"observed_at"`
}

// FirstInWindow reports whether no earlier request was seen in the window.
func (o Observation) FirstInWindow() bool {
	return o.SecondsSinceLast < 0
}

// Exceeds reports whether the prior count is above limit. A non-positive
// limit never triggers.
func (o Observation) Exceeds(limit int) bool {
	return limit > 0 && o.PriorCount > int64(limit)
}

// Config holds tracker defaults.
type Config struct {
	KeyPrefix string
	Window    time.Duration
	TTL       time.Duration
}

type Tracker struct {
	store  window.Store
	cfg    Config
	clock  func() time.Time
	logger *slog.Logger
}

type Option func(*Tracker)

// WithClock overrides the time source, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(store window.Store, cfg Config, opts ...Option) *Tracker {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	t := &Tracker{
		store:  store,
		cfg:    cfg,
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records a request from clientKey using the configured window and TTL.
func (t *Tracker) Observe(ctx context.Context, clientKey string) (Observation, error) {
	return t.ObserveWindow(ctx, clientKey, t.cfg.Window, t.cfg.TTL)
}

// ObserveWindow records a request from clientKey and returns how many requests
// preceded it within window. The store update is one atomic round trip.
func (t *Tracker) ObserveWindow(ctx context.Context, clientKey string, window, ttl time.Duration) (Observation, error) {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return Observation{}, fmt.Errorf("%w: empty client key", ErrRetrieval)
	}
	if window <= 0 || ttl <= 0 {
		return Observation{}, ErrInvalidWindow
	}

	observedAt := t.clock()
	now := float64(observedAt.UnixMicro()) / 1e6
	key := t.cfg.KeyPrefix + clientKey

	snap, err := t.store.Record(ctx, key, now, window, ttl)
	if err != nil {
		t.logger.Warn("frequency window update failed", "key", key, "error", err)
		return Observation{}, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	obs := Observation{
		Key:              clientKey,
		PriorCount:       max(0, snap.Count-1),
		SecondsSinceLast: -1,
		ObservedAt:       observedAt,
	}
	if len(snap.Recent) > 1 {
		prev := snap.Recent[len(snap.Recent)-2]
		obs.SecondsSinceLast = roundMillis(now - prev)
	}
	return obs, nil
}

func roundMillis(seconds float64) float64 {
	return math.Round(seconds*1000) / 1000
}
