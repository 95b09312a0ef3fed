package window

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process window store for local/dev use. A single
// mutex makes every Record atomic.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	clock   func() time.Time
}

type memoryWindow struct {
	entries   []memoryEntry
	expiresAt time.Time
}

type memoryEntry struct {
	score  float64
	member string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		clock:   time.Now,
	}
}

// SetClock replaces the clock used for key expiry.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if clock == nil {
		clock = time.Now
	}
	s.clock = clock
}

func (s *MemoryStore) Record(_ context.Context, key string, now float64, window, ttl time.Duration) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wall := s.clock()
	w, ok := s.windows[key]
	if !ok || (!w.expiresAt.IsZero() && !wall.Before(w.expiresAt)) {
		w = &memoryWindow{}
		s.windows[key] = w
	}

	start := now - window.Seconds()
	cut := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].score >= start })
	w.entries = append(w.entries[:0], w.entries[cut:]...)

	w.add(now, FormatScore(now))

	var count int64
	for _, e := range w.entries {
		if e.score >= start && e.score <= now {
			count++
		}
	}

	snap := Snapshot{Count: count}
	from := len(w.entries) - 2
	if from < 0 {
		from = 0
	}
	for _, e := range w.entries[from:] {
		snap.Recent = append(snap.Recent, e.score)
	}

	if ttl > 0 {
		w.expiresAt = wall.Add(ttl)
	}
	return snap, nil
}

// add inserts member keeping entries ordered by score. An existing member
// only has its score updated, matching sorted-set semantics.
func (w *memoryWindow) add(score float64, member string) {
	for i, e := range w.entries {
		if e.member == member {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			break
		}
	}
	idx := sort.Search(len(w.entries), func(i int) bool { return w.entries[i].score > score })
	w.entries = append(w.entries, memoryEntry{})
	copy(w.entries[idx+1:], w.entries[idx:])
	w.entries[idx] = memoryEntry{score: score, member: member}
}

// Len reports how many keys are currently held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep drops keys whose TTL has elapsed and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	wall := s.clock()
	removed := 0
	for key, w := range s.windows {
		if !w.expiresAt.IsZero() && !wall.Before(w.expiresAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// StartJanitor reclaims idle keys every interval until ctx is done.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
