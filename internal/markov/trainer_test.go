package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/tarpit/internal/corpus"
	"github.com/antoniostano/tarpit/internal/observability"
)

func linesOf(lines ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, line := range lines {
			if !yield(line, nil) {
				return
			}
		}
	}
}

func newTestTrainer(store Store, cfg TrainerConfig) *Trainer {
	tr := NewTrainer(store, cfg)
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	return tr
}

func wordID(t *testing.T, store *MemoryStore, word string) int32 {
	t.Helper()
	id, ok, err := store.LookupWord(context.Background(), word)
	require.NoError(t, err)
	require.True(t, ok, "word %q not stored", word)
	return id
}

func TestTrainTwoWordLine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	stats, err := newTestTrainer(store, TrainerConfig{}).Train(ctx, linesOf("a b"))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.LinesProcessed)
	require.Equal(t, int64(3), stats.SequencesProcessed)
	require.Equal(t, 2, stats.UniqueWords)
	require.Equal(t, 1, stats.Batches)
	require.NotEmpty(t, stats.RunID)

	a, b := wordID(t, store, "a"), wordID(t, store, "b")
	want := []Transition{
		{Context: Context{P1: 1, P2: 1}, Next: a, Freq: 1},
		{Context: Context{P1: 1, P2: a}, Next: b, Freq: 1},
		{Context: Context{P1: a, P2: b}, Next: SentinelID, Freq: 1},
	}
	require.ElementsMatch(t, want, store.Transitions())

	_, err = newTestTrainer(store, TrainerConfig{}).Train(ctx, linesOf("a b"))
	require.NoError(t, err)
	for _, tr := range want {
		require.Equal(t, int64(2), store.Frequency(tr.Context, tr.Next))
	}
	require.Len(t, store.Transitions(), 3)
}

func TestTrainSingleTokenLine(t *testing.T) {
	store := NewMemoryStore()
	stats, err := newTestTrainer(store, TrainerConfig{}).Train(context.Background(), linesOf("Hello!"))
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.SequencesProcessed)

	hello := wordID(t, store, "hello")
	require.Equal(t, int64(1), store.Frequency(StartContext, hello))
	require.Equal(t, int64(1), store.Frequency(Context{P1: SentinelID, P2: hello}, SentinelID))
}

func TestTrainEmptyLinesEmitNothing(t *testing.T) {
	store := NewMemoryStore()
	stats, err := newTestTrainer(store, TrainerConfig{}).Train(context.Background(), linesOf("", "   ", "?!"))
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.LinesProcessed)
	require.Zero(t, stats.SequencesProcessed)
	require.Zero(t, stats.Batches)
	require.Empty(t, store.Transitions())
	require.ErrorIs(t, RequireTransitions(stats), ErrEmptyCorpus)
}

func TestTrainSkipsOverLengthTokenKeepingContext(t *testing.T) {
	store := NewMemoryStore()
	line := "a " + strings.Repeat("x", MaxTokenRunes+1) + " b"
	stats, err := newTestTrainer(store, TrainerConfig{}).Train(context.Background(), linesOf(line))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.SkippedTokens)
	require.Equal(t, int64(3), stats.SequencesProcessed)

	a, b := wordID(t, store, "a"), wordID(t, store, "b")
	require.Equal(t, int64(1), store.Frequency(Context{P1: SentinelID, P2: a}, b))

	_, found, err := store.LookupWord(context.Background(), strings.Repeat("x", MaxTokenRunes+1))
	require.NoError(t, err)
	require.False(t, found)
}

func TestTrainAcceptsTokenAtLimit(t *testing.T) {
	store := NewMemoryStore()
	stats, err := newTestTrainer(store, TrainerConfig{}).Train(context.Background(), linesOf(strings.Repeat("y", MaxTokenRunes)))
	require.NoError(t, err)
	require.Zero(t, stats.SkippedTokens)
	require.Equal(t, int64(2), stats.SequencesProcessed)
}

func TestTrainSmallBatchesMatchSingleBatch(t *testing.T) {
	ctx := context.Background()
	corpus := []string{
		"the cat sat on the mat",
		"the cat ran",
		"a dog sat on the cat",
		"the cat sat on the mat",
	}

	single := NewMemoryStore()
	_, err := newTestTrainer(single, TrainerConfig{}).Train(ctx, linesOf(corpus...))
	require.NoError(t, err)

	batched := NewMemoryStore()
	stats, err := newTestTrainer(batched, TrainerConfig{BatchSize: 2}).Train(ctx, linesOf(corpus...))
	require.NoError(t, err)
	require.Greater(t, stats.Batches, 1)

	require.Equal(t, single.Transitions(), batched.Transitions())

	cat := wordID(t, batched, "cat")
	the := wordID(t, batched, "the")
	require.Equal(t, int64(3), batched.Frequency(Context{P1: SentinelID, P2: the}, cat))
}

type flakyStore struct {
	*MemoryStore
	failures  atomic.Int32
	failWith  error
	upsertHit atomic.Int32
}

func (s *flakyStore) UpsertTransitions(ctx context.Context, batch []Transition) error {
	s.upsertHit.Add(1)
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return s.failWith
	}
	return s.MemoryStore.UpsertTransitions(ctx, batch)
}

func TestTrainRetriesWholeBatch(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failWith: io.ErrUnexpectedEOF}
	store.failures.Store(2)

	stats, err := newTestTrainer(store, TrainerConfig{MaxFlushAttempts: 3}).Train(context.Background(), linesOf("a b"))
	require.NoError(t, err)
	require.Equal(t, int32(3), store.upsertHit.Load())
	require.Equal(t, int64(3), stats.SequencesProcessed)
	for _, tr := range store.Transitions() {
		require.Equal(t, int64(1), tr.Freq)
	}
}

func TestTrainFailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failWith: io.ErrUnexpectedEOF}
	store.failures.Store(10)

	_, err := newTestTrainer(store, TrainerConfig{MaxFlushAttempts: 2, Source: "unit"}).Train(ctx, linesOf("a b", "c d"))
	require.Error(t, err)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.ErrorContains(t, err, "training stopped after 2 lines")
	require.Equal(t, int32(2), store.upsertHit.Load())

	runs, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunStatusFailed, runs[0].Status)
	require.Equal(t, "unit", runs[0].Source)
	require.NotEmpty(t, runs[0].Error)
}

func TestTrainDoesNotRetryPermanentErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failWith: errors.New("check constraint violated")}
	store.failures.Store(10)

	_, err := newTestTrainer(store, TrainerConfig{MaxFlushAttempts: 5}).Train(context.Background(), linesOf("a b"))
	require.ErrorContains(t, err, "check constraint violated")
	require.Equal(t, int32(1), store.upsertHit.Load())
}

func TestTrainPropagatesReadErrors(t *testing.T) {
	readErr := errors.New("disk gone")
	lines := func(yield func(string, error) bool) {
		if !yield("a b", nil) {
			return
		}
		yield("", readErr)
	}
	store := NewMemoryStore()
	_, err := newTestTrainer(store, TrainerConfig{}).Train(context.Background(), lines)
	require.ErrorIs(t, err, readErr)
	require.ErrorContains(t, err, "after line 1")
	// The line read before the failure is still stored.
	require.Len(t, store.Transitions(), 3)
}

func TestTrainSkipsOverlongCorpusLine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	text := "first line here\n" + strings.Repeat("z", corpus.MaxLineBytes+10) + "\nlast line here\n"
	src := corpus.NewSource("mem", strings.NewReader(text))

	stats, err := newTestTrainer(store, TrainerConfig{}).Train(ctx, src.Lines())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.LinesProcessed)
	require.Equal(t, int64(1), stats.SkippedLines)
	require.Equal(t, int64(8), stats.SequencesProcessed)

	last := wordID(t, store, "last")
	require.Equal(t, int64(1), store.Frequency(Context{P1: 1, P2: 1}, last))
}

func TestTrainSharedDictionaryCountsWordsPerRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dict := NewDictionary(store)
	train := func(line string) Stats {
		tr := NewTrainer(store, TrainerConfig{}, WithDictionary(dict))
		stats, err := tr.Train(ctx, linesOf(line))
		require.NoError(t, err)
		return stats
	}

	require.Equal(t, 2, train("alpha beta").UniqueWords)
	require.Equal(t, 1, train("alpha gamma").UniqueWords)
	require.Equal(t, 0, train("beta gamma").UniqueWords)
	require.Equal(t, 3, dict.Len())
}

func TestTrainRecordsCompletedRun(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	stats, err := newTestTrainer(store, TrainerConfig{Source: "books.txt"}).Train(ctx, linesOf("one two three"))
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, stats.RunID, runs[0].ID)
	require.Equal(t, RunStatusCompleted, runs[0].Status)
	require.Equal(t, int64(4), runs[0].SequencesProcessed)
	require.Equal(t, 3, runs[0].UniqueWords)
	require.False(t, runs[0].FinishedAt.Before(runs[0].StartedAt))
}

func TestTrainHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &flakyStore{MemoryStore: NewMemoryStore(), failWith: io.ErrUnexpectedEOF}
	store.failures.Store(10)

	_, err := newTestTrainer(store, TrainerConfig{BatchSize: 1}).Train(ctx, linesOf("a b c d e f"))
	require.Error(t, err)
}

func TestTrainReportsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("tarpit_test_markov_%d", time.Now().UnixNano()))
	store := &flakyStore{MemoryStore: NewMemoryStore(), failWith: io.ErrUnexpectedEOF}
	store.failures.Store(1)

	tr := NewTrainer(store, TrainerConfig{}, WithTrainerMetrics(metrics))
	tr.sleep = func(context.Context, time.Duration) error { return nil }
	_, err := tr.Train(context.Background(), linesOf("a b", "a b"))
	require.NoError(t, err)

	require.Equal(t, float64(2), testutil.ToFloat64(metrics.TrainingLines))
	require.Equal(t, float64(6), testutil.ToFloat64(metrics.TrainingSequences))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TrainingBatches.WithLabelValues("committed")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.TrainingBatches.WithLabelValues("retried")))
}
