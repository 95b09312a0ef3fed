package markov

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/tarpit/internal/corpus"
	"github.com/antoniostano/tarpit/internal/observability"
	"github.com/antoniostano/tarpit/internal/reliability"
)

// TrainerConfig tunes batching and retry behaviour.
type TrainerConfig struct {
	// BatchSize is the number of transitions accumulated before a flush.
	BatchSize int
	// MaxFlushAttempts bounds how often one batch is retried as a whole.
	MaxFlushAttempts int
	RetryBase        time.Duration
	RetryCap         time.Duration
	// ProgressEvery logs progress after this many lines; 0 disables it.
	ProgressEvery int
	// Source labels the corpus in logs and the run ledger.
	Source string
}

func (c TrainerConfig) withDefaults() TrainerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 10000
	}
	if c.MaxFlushAttempts <= 0 {
		c.MaxFlushAttempts = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 5 * time.Second
	}
	if c.ProgressEvery < 0 {
		c.ProgressEvery = 0
	}
	return c
}

// Stats describes a finished training run.
type Stats struct {
	RunID              string `json:"run_id"`
	LinesProcessed     int64  `json:"lines_processed"`
	SequencesProcessed int64  `json:"sequences_processed"`
	// UniqueWords counts words this run added to the dictionary. A dictionary
	// shared between runs only credits each word to the first run that met it.
	UniqueWords   int   `json:"unique_words"`
	SkippedTokens int64 `json:"skipped_tokens"`
	// SkippedLines counts lines the corpus reader could not deliver, such as
	// lines over corpus.MaxLineBytes.
	SkippedLines int64 `json:"skipped_lines"`
	Batches      int   `json:"batches"`
}

// Trainer turns corpus lines into transition counts.
type Trainer struct {
	store   Store
	dict    *Dictionary
	cfg     TrainerConfig
	logger  *slog.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

type TrainerOption func(*Trainer)

func WithTrainerLogger(logger *slog.Logger) TrainerOption {
	return func(t *Trainer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithTrainerMetrics(m *observability.Metrics) TrainerOption {
	return func(t *Trainer) { t.metrics = m }
}

// WithDictionary shares a dictionary between trainers. Dictionary is safe for
// concurrent use; by default every trainer owns a fresh one.
func WithDictionary(d *Dictionary) TrainerOption {
	return func(t *Trainer) {
		if d != nil {
			t.dict = d
		}
	}
}

func NewTrainer(store Store, cfg TrainerConfig, opts ...TrainerOption) *Trainer {
	t := &Trainer{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dict == nil {
		t.dict = NewDictionary(store)
	}
	return t
}

// Train consumes lines front to back. Each line is an independent sequence:
// the context starts at (sentinel, sentinel) and a terminal transition to the
// sentinel closes it. Batches are flushed in order on a single goroutine; the
// reader blocks while two batches are already waiting.
func (t *Trainer) Train(ctx context.Context, lines iter.Seq2[string, error]) (Stats, error) {
	started := time.Now().UTC()
	runID := uuid.NewString()
	logger := t.logger.With("run_id", runID, "source", t.cfg.Source)
	logger.Info("markov training started", "batch_size", t.cfg.BatchSize)
	wordsBefore := t.dict.Len()

	var (
		linesProcessed int64
		sequences      int64
		skipped        int64
		skippedLines   int64
		batches        int
	)

	pending := make(chan []Transition, 2)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for batch := range pending {
			if err := t.flush(gctx, batch, logger); err != nil {
				return err
			}
			batches++
		}
		return nil
	})

	g.Go(func() error {
		defer close(pending)

		tok := NewTokenizer()
		acc := newAccumulator(t.cfg.BatchSize)
		send := func() error {
			if acc.empty() {
				return nil
			}
			select {
			case pending <- acc.drain():
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		emit := func(tr Transition) error {
			acc.add(tr)
			sequences++
			if acc.full() {
				return send()
			}
			return nil
		}

		for line, err := range lines {
			if errors.Is(err, corpus.ErrLineTooLong) {
				skippedLines++
				logger.Warn("skipping unreadable corpus line", "after_line", linesProcessed, "error", err)
				continue
			}
			if err != nil {
				// Keep what was read before the failure.
				if serr := send(); serr != nil {
					return serr
				}
				return fmt.Errorf("read corpus after line %d: %w", linesProcessed, err)
			}
			linesProcessed++

			state := StartContext
			emitted := false
			for _, word := range tok.Tokenize(line) {
				if utf8.RuneCountInString(word) > MaxTokenRunes {
					skipped++
					logger.Debug("skipping over-length token", "line", linesProcessed, "prefix", truncateRunes(word, 50))
					continue
				}
				id, err := t.dict.IDFor(gctx, word)
				if err != nil {
					return fmt.Errorf("resolve word on line %d: %w", linesProcessed, err)
				}
				if err := emit(Transition{Context: state, Next: id, Freq: 1}); err != nil {
					return err
				}
				state = state.Shift(id)
				emitted = true
			}
			if emitted {
				if err := emit(Transition{Context: state, Next: SentinelID, Freq: 1}); err != nil {
					return err
				}
			}

			if t.cfg.ProgressEvery > 0 && linesProcessed%int64(t.cfg.ProgressEvery) == 0 {
				logger.Info("markov training progress", "lines", linesProcessed, "sequences", sequences, "unique_words", t.dict.Len()-wordsBefore)
			}
		}
		return send()
	})

	err := g.Wait()
	t.metrics.ObserveTrainingLines(linesProcessed)

	stats := Stats{
		RunID:              runID,
		LinesProcessed:     linesProcessed,
		SequencesProcessed: sequences,
		UniqueWords:        t.dict.Len() - wordsBefore,
		SkippedTokens:      skipped,
		SkippedLines:       skippedLines,
		Batches:            batches,
	}
	t.recordRun(ctx, stats, started, err, logger)

	if err != nil {
		logger.Error("markov training failed", "lines", linesProcessed, "error", err)
		return stats, fmt.Errorf("training stopped after %d lines: %w", linesProcessed, err)
	}
	logger.Info("markov training complete",
		"lines", stats.LinesProcessed,
		"sequences", stats.SequencesProcessed,
		"unique_words", stats.UniqueWords,
		"skipped_tokens", stats.SkippedTokens,
		"skipped_lines", stats.SkippedLines,
		"batches", stats.Batches,
		"elapsed", time.Since(started).Round(time.Millisecond),
	)
	return stats, nil
}

// flush writes one batch in a single transaction and retries the whole batch
// on transient store errors. A failed transaction leaves no partial rows.
func (t *Trainer) flush(ctx context.Context, batch []Transition, logger *slog.Logger) error {
	var sequences int
	for _, tr := range batch {
		sequences += int(tr.Freq)
	}

	var err error
	for attempt := 0; attempt < t.cfg.MaxFlushAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, t.cfg.RetryBase, t.cfg.RetryCap)
			logger.Warn("retrying transition batch", "attempt", attempt+1, "rows", len(batch), "wait", wait, "error", err)
			t.metrics.ObserveTrainingBatch("retried", 0)
			if serr := t.sleep(ctx, wait); serr != nil {
				return serr
			}
		}
		err = t.store.UpsertTransitions(ctx, batch)
		if err == nil {
			t.metrics.ObserveTrainingBatch("committed", sequences)
			return nil
		}
		if !reliability.IsRetryableStoreError(err) {
			break
		}
	}
	t.metrics.ObserveTrainingBatch("failed", 0)
	return fmt.Errorf("flush batch of %d rows: %w", len(batch), err)
}

func (t *Trainer) recordRun(ctx context.Context, stats Stats, started time.Time, runErr error, logger *slog.Logger) {
	recorder, ok := t.store.(RunRecorder)
	if !ok {
		return
	}
	run := TrainingRun{
		ID:                 stats.RunID,
		Source:             t.cfg.Source,
		Status:             RunStatusCompleted,
		LinesProcessed:     stats.LinesProcessed,
		SequencesProcessed: stats.SequencesProcessed,
		UniqueWords:        stats.UniqueWords,
		StartedAt:          started,
		FinishedAt:         time.Now().UTC(),
	}
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Error = runErr.Error()
	}
	// The run ledger is best-effort; a cancelled ctx still gets a short window.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := recorder.RecordRun(recCtx, run); err != nil {
		logger.Warn("record training run failed", "error", err)
	}
}

// accumulator aggregates identical transitions so each batch touches every
// row once.
type accumulator struct {
	limit  int
	counts map[Transition]int64
	added  int
}

func newAccumulator(limit int) *accumulator {
	return &accumulator{limit: limit, counts: make(map[Transition]int64)}
}

func (a *accumulator) add(tr Transition) {
	key := Transition{Context: tr.Context, Next: tr.Next}
	a.counts[key] += tr.Freq
	a.added++
}

func (a *accumulator) full() bool  { return a.added >= a.limit }
func (a *accumulator) empty() bool { return a.added == 0 }

// drain returns the batch ordered by key and resets the accumulator. The
// fixed order keeps concurrent trainers from deadlocking on row locks.
func (a *accumulator) drain() []Transition {
	out := make([]Transition, 0, len(a.counts))
	for key, n := range a.counts {
		key.Freq = n
		out = append(out, key)
	}
	slices.SortFunc(out, compareTransitions)
	a.counts = make(map[Transition]int64, len(a.counts))
	a.added = 0
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// ErrEmptyCorpus is returned by RequireTransitions for a run that stored
// nothing.
var ErrEmptyCorpus = errors.New("corpus produced no transitions")

// RequireTransitions turns an empty run into an error for callers that
// treat it as a misconfiguration.
func RequireTransitions(stats Stats) error {
	if stats.SequencesProcessed == 0 {
		return ErrEmptyCorpus
	}
	return nil
}
