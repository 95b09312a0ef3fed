package markov

import (
	"context"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process transition table for local/dev use and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	words       map[string]int32
	texts       map[int32]string
	nextID      int32
	transitions map[Context]map[int32]int64
	runs        []TrainingRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		words:       map[string]int32{SentinelWord: SentinelID},
		texts:       map[int32]string{SentinelID: SentinelWord},
		nextID:      SentinelID + 1,
		transitions: make(map[Context]map[int32]int64),
	}
}

func (s *MemoryStore) LookupWord(_ context.Context, text string) (int32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.words[text]
	return id, ok, nil
}

func (s *MemoryStore) InsertWord(_ context.Context, text string) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.words[text]; ok {
		return id, nil
	}
	id := s.nextID
	s.nextID++
	s.words[text] = id
	s.texts[id] = text
	return id, nil
}

func (s *MemoryStore) TopTransitions(_ context.Context, from Context, limit int) ([]Candidate, error) {
	s.mu.RLock()
	next := s.transitions[from]
	out := make([]Candidate, 0, len(next))
	for id, freq := range next {
		out = append(out, Candidate{NextID: id, Word: s.texts[id], Freq: freq})
	}
	s.mu.RUnlock()

	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Freq > out[j].Freq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertTransitions(_ context.Context, batch []Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range batch {
		if tr.Freq <= 0 {
			continue
		}
		next, ok := s.transitions[tr.Context]
		if !ok {
			next = make(map[int32]int64)
			s.transitions[tr.Context] = next
		}
		next[tr.Next] += tr.Freq
	}
	return nil
}

// Frequency returns the stored count of one transition.
func (s *MemoryStore) Frequency(from Context, next int32) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transitions[from][next]
}

// Transitions returns every stored row ordered by (P1, P2, Next).
func (s *MemoryStore) Transitions() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transition
	for c, next := range s.transitions {
		for id, freq := range next {
			out = append(out, Transition{Context: c, Next: id, Freq: freq})
		}
	}
	slices.SortFunc(out, compareTransitions)
	return out
}

func (s *MemoryStore) RecordRun(_ context.Context, run TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStore) RecentRuns(_ context.Context, limit int) ([]TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]TrainingRun, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func compareTransitions(a, b Transition) int {
	switch {
	case a.P1 != b.P1:
		return int(a.P1) - int(b.P1)
	case a.P2 != b.P2:
		return int(a.P2) - int(b.P2)
	default:
		return int(a.Next) - int(b.Next)
	}
}
