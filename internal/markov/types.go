// Package markov trains and walks a second-order word transition table.
//
// Words are interned into int32 ids; id 1 is the sentinel (empty word) that
// marks the start and end of every training line. A transition counts how
// often a word followed a two-word context.
package markov

import (
	"context"
	"time"
)

const (
	// SentinelID is the reserved id of the empty word.
	SentinelID int32 = 1
	// SentinelWord is the text of the sentinel.
	SentinelWord = ""
	// MaxTokenRunes is the longest token the trainer accepts.
	MaxTokenRunes = 100
)

// Context is the pair of the two most recent word ids.
type Context struct {
	P1 int32
	P2 int32
}

// StartContext is the state every line and every paragraph begins from.
var StartContext = Context{P1: SentinelID, P2: SentinelID}

// Shift returns the context after next has been emitted.
func (c Context) Shift(next int32) Context {
	return Context{P1: c.P2, P2: next}
}

// Transition is one (context -> next) observation. Freq is the amount to add
// when upserting and the stored total when reading.
type Transition struct {
	Context
	Next int32
	Freq int64
}

// Candidate is a possible next word for a context.
type Candidate struct {
	NextID int32
	Word   string
	Freq   int64
}

// TrainingRun summarises one trainer invocation.
type TrainingRun struct {
	ID                 string    `json:"id"`
	Source             string    `json:"source"`
	Status             string    `json:"status"`
	LinesProcessed     int64     `json:"lines_processed"`
	SequencesProcessed int64     `json:"sequences_processed"`
	UniqueWords        int       `json:"unique_words"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Error              string    `json:"error,omitempty"`
}

const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WordStore resolves word text to ids.
type WordStore interface {
	// LookupWord returns the id of text, or found=false when it is unknown.
	LookupWord(ctx context.Context, text string) (id int32, found bool, err error)
	// InsertWord stores text and returns its id. Inserting an existing text
	// returns the existing id.
	InsertWord(ctx context.Context, text string) (int32, error)
}

// TransitionReader serves the generator.
type TransitionReader interface {
	// TopTransitions returns up to limit candidates following from, ordered by
	// descending frequency with ties in random order.
	TopTransitions(ctx context.Context, from Context, limit int) ([]Candidate, error)
}

// Store persists the word dictionary and the transition table.
type Store interface {
	WordStore
	TransitionReader
	// UpsertTransitions adds every transition's Freq to its row, creating
	// missing rows. The batch is applied atomically.
	UpsertTransitions(ctx context.Context, batch []Transition) error
	Ping(ctx context.Context) error
	Close() error
}

// RunRecorder is implemented by stores that keep a training run ledger.
type RunRecorder interface {
	RecordRun(ctx context.Context, run TrainingRun) error
	RecentRuns(ctx context.Context, limit int) ([]TrainingRun, error)
}
