package session

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// ReasonExpired marks sessions closed by the janitor rather than by their stream.
const ReasonExpired = "expired"

var ErrNotFound = errors.New("session not found")

// Session is one long-lived trickle stream held open against a client.
type Session struct {
	ID             string    `json:"session_id"`
	ClientIP       string    `json:"client_ip"`
	Path           string    `json:"path"`
	Transport      string    `json:"transport"`
	Status         Status    `json:"status"`
	Paragraphs     int       `json:"paragraphs"`
	EndReason      string    `json:"end_reason,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	retention         time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

// NewManager keeps ended sessions for retention so operators can still list
// them; a non-positive retention drops them as soon as the janitor runs.
func NewManager(inactivityTimeout, retention time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		retention:         retention,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(clientIP, path, transport string) *Session {
	now := m.now()
	s := &Session{
		ID:             uuid.NewString(),
		ClientIP:       clientIP,
		Path:           path,
		Transport:      transport,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// RecordParagraph counts one delivered paragraph and refreshes activity.
func (m *Manager) RecordParagraph(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Paragraphs++
	s.LastActivityAt = m.now()
	return nil
}

func (m *Manager) End(sessionID, reason string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusEnded {
		return clone(s), nil
	}
	now := m.now()
	s.Status = StatusEnded
	s.EndReason = reason
	s.LastActivityAt = now
	s.EndedAt = now
	return clone(s), nil
}

// List returns up to limit sessions, active ones first, newest first within
// each group. limit <= 0 means no limit.
func (m *Manager) List(limit int) []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, clone(s))
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if a.Status != b.Status {
			if a.Status == StatusActive {
				return -1
			}
			return 1
		}
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// Sweep ends sessions idle past the inactivity timeout and forgets ended
// sessions older than the retention window.
func (m *Manager) Sweep() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusEnded {
			if now.Sub(s.EndedAt) >= m.retention {
				delete(m.sessions, id)
			}
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.EndReason = ReasonExpired
		s.LastActivityAt = now
		s.EndedAt = now
		expired = append(expired, clone(s))
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func (m *Manager) setClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
