package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedManager(inactivity, retention time.Duration) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	m := NewManager(inactivity, retention)
	m.setClock(clock.Now)
	return m, clock
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	s := m.Create("203.0.113.9", "/tarpit/ws", "ws")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ClientIP != "203.0.113.9" || got.Transport != "ws" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID, "client_stop")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded || ended.EndReason != "client_stop" {
		t.Fatalf("ended = %+v, want status %q reason client_stop", ended, StatusEnded)
	}
	if ended.EndedAt.IsZero() {
		t.Fatalf("EndedAt should be set")
	}

	again, err := m.End(s.ID, "disconnected")
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if again.EndReason != "client_stop" {
		t.Fatalf("EndReason = %q after second End, want client_stop", again.EndReason)
	}
}

func TestManagerUnknownSession(t *testing.T) {
	m := NewManager(time.Minute, time.Minute)
	if _, err := m.Get("missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want %v", err, ErrNotFound)
	}
	if err := m.RecordParagraph("missing"); err != ErrNotFound {
		t.Fatalf("RecordParagraph() error = %v, want %v", err, ErrNotFound)
	}
	if _, err := m.End("missing", "x"); err != ErrNotFound {
		t.Fatalf("End() error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerRecordParagraph(t *testing.T) {
	m, clock := newClockedManager(time.Minute, time.Minute)
	s := m.Create("10.0.0.1", "/tarpit/ws", "ws")
	clock.Advance(3 * time.Second)
	for range 3 {
		if err := m.RecordParagraph(s.ID); err != nil {
			t.Fatalf("RecordParagraph() error = %v", err)
		}
	}
	got, _ := m.Get(s.ID)
	if got.Paragraphs != 3 {
		t.Fatalf("Paragraphs = %d, want 3", got.Paragraphs)
	}
	if want := s.StartedAt.Add(3 * time.Second); !got.LastActivityAt.Equal(want) {
		t.Fatalf("LastActivityAt = %v, want %v", got.LastActivityAt, want)
	}
}

func TestManagerSweepExpiresAndForgets(t *testing.T) {
	m, clock := newClockedManager(30*time.Second, time.Minute)
	var hooked []string
	m.SetExpireHook(func(s *Session) { hooked = append(hooked, s.ID) })

	idle := m.Create("10.0.0.1", "/tarpit/ws", "ws")
	busy := m.Create("10.0.0.2", "/tarpit/ws", "ws")

	clock.Advance(20 * time.Second)
	_ = m.RecordParagraph(busy.ID)
	clock.Advance(15 * time.Second)
	m.Sweep()

	got, _ := m.Get(idle.ID)
	if got.Status != StatusEnded || got.EndReason != ReasonExpired {
		t.Fatalf("idle session = %+v, want expired", got)
	}
	if len(hooked) != 1 || hooked[0] != idle.ID {
		t.Fatalf("expire hook calls = %v, want [%s]", hooked, idle.ID)
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", m.ActiveCount())
	}

	clock.Advance(time.Minute)
	m.Sweep()
	if _, err := m.Get(idle.ID); err != ErrNotFound {
		t.Fatalf("Get(idle) after retention error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerListOrdersActiveFirst(t *testing.T) {
	m, clock := newClockedManager(time.Minute, time.Hour)
	first := m.Create("10.0.0.1", "/tarpit/ws", "ws")
	clock.Advance(time.Second)
	second := m.Create("10.0.0.2", "/tarpit/ws", "ws")
	clock.Advance(time.Second)
	third := m.Create("10.0.0.3", "/tarpit/ws", "ws")
	_, _ = m.End(third.ID, "client_stop")

	list := m.List(0)
	if len(list) != 3 {
		t.Fatalf("len(List(0)) = %d, want 3", len(list))
	}
	want := []string{second.ID, first.ID, third.ID}
	for i, s := range list {
		if s.ID != want[i] {
			t.Fatalf("List()[%d] = %s, want %s", i, s.ID, want[i])
		}
	}
	if got := m.List(2); len(got) != 2 {
		t.Fatalf("len(List(2)) = %d, want 2", len(got))
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30*time.Millisecond, time.Hour)
	s := m.Create("10.0.0.1", "/tarpit/ws", "ws")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}
