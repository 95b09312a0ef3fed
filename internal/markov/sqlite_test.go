package markov

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "markov.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteWords(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	id, found, err := store.LookupWord(ctx, SentinelWord)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, SentinelID, id)

	_, found, err = store.LookupWord(ctx, "apple")
	require.NoError(t, err)
	require.False(t, found)

	first, err := store.InsertWord(ctx, "apple")
	require.NoError(t, err)
	require.Equal(t, int32(2), first)

	again, err := store.InsertWord(ctx, "apple")
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestSQLiteUpsertAccumulates(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	a, err := store.InsertWord(ctx, "a")
	require.NoError(t, err)
	b, err := store.InsertWord(ctx, "b")
	require.NoError(t, err)

	batch := []Transition{
		{Context: StartContext, Next: a, Freq: 1},
		{Context: StartContext, Next: b, Freq: 3},
	}
	require.NoError(t, store.UpsertTransitions(ctx, batch))
	require.NoError(t, store.UpsertTransitions(ctx, batch))

	got, err := store.TopTransitions(ctx, StartContext, 10)
	require.NoError(t, err)
	require.Equal(t, []Candidate{
		{NextID: b, Word: "b", Freq: 6},
		{NextID: a, Word: "a", Freq: 2},
	}, got)

	top, err := store.TopTransitions(ctx, StartContext, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, "b", top[0].Word)

	none, err := store.TopTransitions(ctx, Context{P1: a, P2: b}, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSQLiteTrainAndGenerate(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	stats, err := newTestTrainer(store, TrainerConfig{BatchSize: 3, Source: "sqlite"}).Train(ctx, linesOf("hello there world", "hello there world"))
	require.NoError(t, err)
	require.Equal(t, int64(8), stats.SequencesProcessed)

	hello, found, err := store.LookupWord(ctx, "hello")
	require.NoError(t, err)
	require.True(t, found)
	cands, err := store.TopTransitions(ctx, StartContext, 5)
	require.NoError(t, err)
	require.Equal(t, []Candidate{{NextID: hello, Word: "hello", Freq: 2}}, cands)

	out := NewGenerator(store, GeneratorConfig{}).GenerateWithRand(ctx, seeded(9), 1)
	require.Contains(t, out, "<p>hello there world.</p>")

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, stats.RunID, runs[0].ID)
	require.Equal(t, RunStatusCompleted, runs[0].Status)
	require.Equal(t, int64(2), runs[0].LinesProcessed)
}

func TestSQLiteRecordRunUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)
	started := time.Now().UTC().Truncate(time.Millisecond)

	run := TrainingRun{ID: "run-1", Source: "x", Status: RunStatusFailed, StartedAt: started, FinishedAt: started, Error: "boom"}
	require.NoError(t, store.RecordRun(ctx, run))
	run.Status = RunStatusCompleted
	run.Error = ""
	run.LinesProcessed = 7
	require.NoError(t, store.RecordRun(ctx, run))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunStatusCompleted, runs[0].Status)
	require.Equal(t, int64(7), runs[0].LinesProcessed)
	require.True(t, runs[0].StartedAt.Equal(started))
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	mem, err := NewStore(ctx, "", "")
	require.NoError(t, err)
	require.Equal(t, "in-memory", StoreMode(mem))

	lite, err := NewStore(ctx, "", filepath.Join(t.TempDir(), "nested", "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lite.Close() })
	require.Equal(t, "sqlite", StoreMode(lite))
}
