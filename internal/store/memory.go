package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryRecord struct {
	session  *domain.DesignSession
	messages []domain.StoredMessage
	progress []*domain.ProgressSnapshot
}

// MemoryStore keeps sessions in a bounded LRU cache. The least recently used
// session is evicted, with its logs, once capacity is reached.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *memoryRecord]
	now   func() time.Time
}

// NewMemory creates an in-process repository holding at most capacity sessions.
func NewMemory(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	cache, err := lru.NewWithEvict(capacity, func(id string, _ *memoryRecord) {
		slog.Debug("memory store dropped session", "session_id", id)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, s *domain.DesignSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.Contains(s.SessionID) {
		return ErrExists
	}
	s.Version = 1
	m.cache.Add(s.SessionID, &memoryRecord{session: s.Clone()})
	return nil
}

// Get returns a copy of the session.
func (m *MemoryStore) Get(_ context.Context, id string) (*domain.DesignSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.session.Clone(), nil
}

// Put replaces the session when versions match.
func (m *MemoryStore) Put(_ context.Context, s *domain.DesignSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(s.SessionID)
	if !ok {
		return ErrNotFound
	}
	if rec.session.Version != s.Version {
		return fmt.Errorf("%w: have %d, stored %d", ErrVersionConflict, s.Version, rec.session.Version)
	}
	s.Version++
	rec.session = s.Clone()
	return nil
}

// Delete removes the session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(id)
	return nil
}

// AppendMessage adds to the message log.
func (m *MemoryStore) AppendMessage(_ context.Context, id string, msg *domain.StoredMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	msg.Seq = int64(len(rec.messages)) + 1
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now()
	}
	rec.messages = append(rec.messages, *msg)
	return nil
}

// Messages returns the message log.
func (m *MemoryStore) Messages(_ context.Context, id string) ([]domain.StoredMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]domain.StoredMessage(nil), rec.messages...), nil
}

// AppendProgress adds to the progress log.
func (m *MemoryStore) AppendProgress(_ context.Context, p *domain.ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(p.SessionID)
	if !ok {
		return ErrNotFound
	}
	p.Seq = int64(len(rec.progress)) + 1
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	rec.progress = append(rec.progress, p.Clone())
	return nil
}

// LatestProgress returns the newest snapshot or nil.
func (m *MemoryStore) LatestProgress(_ context.Context, id string) (*domain.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if len(rec.progress) == 0 {
		return nil, nil
	}
	return rec.progress[len(rec.progress)-1].Clone(), nil
}

// ListByStatus scans every cached session.
func (m *MemoryStore) ListByStatus(_ context.Context, statuses ...domain.Status) ([]*domain.DesignSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := statusSet(statuses)
	var out []*domain.DesignSession
	for _, id := range m.cache.Keys() {
		rec, ok := m.cache.Peek(id)
		if ok && want[rec.session.Status] {
			out = append(out, rec.session.Clone())
		}
	}
	return out, nil
}

// DeleteExpired removes sessions idle for longer than ttl.
func (m *MemoryStore) DeleteExpired(_ context.Context, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := m.now().Add(-ttl)
	var n int64
	for _, id := range m.cache.Keys() {
		rec, ok := m.cache.Peek(id)
		if ok && rec.session.UpdatedAt.Before(threshold) {
			m.cache.Remove(id)
			n++
		}
	}
	return n, nil
}

// Persistent is false: the process owns the data.
func (m *MemoryStore) Persistent() bool { return false }

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close drops all sessions.
func (m *MemoryStore) Close() error {
	m.cache.Purge()
	return nil
}
