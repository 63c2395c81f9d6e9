// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create for a duplicate session id.
	ErrExists = errors.New("session already exists")
	// ErrVersionConflict is returned by Put when the stored version moved on.
	ErrVersionConflict = errors.New("session was modified concurrently")
)

// Repository persists design sessions, their message logs and their
// progress logs.
type Repository interface {
	// Create stores a new session with Version 1.
	Create(ctx context.Context, s *domain.DesignSession) error

	// Get returns a copy of the session.
	Get(ctx context.Context, id string) (*domain.DesignSession, error)

	// Put replaces the session if the stored version equals s.Version, then
	// increments s.Version.
	Put(ctx context.Context, s *domain.DesignSession) error

	// Delete removes the session and its logs. Missing sessions are not an error.
	Delete(ctx context.Context, id string) error

	// AppendMessage adds to the session's message log and assigns Seq.
	AppendMessage(ctx context.Context, id string, m *domain.StoredMessage) error

	// Messages returns the message log in append order.
	Messages(ctx context.Context, id string) ([]domain.StoredMessage, error)

	// AppendProgress adds a snapshot to the session's progress log and assigns Seq.
	AppendProgress(ctx context.Context, p *domain.ProgressSnapshot) error

	// LatestProgress returns the newest snapshot, or nil when none exists.
	LatestProgress(ctx context.Context, id string) (*domain.ProgressSnapshot, error)

	// ListByStatus returns sessions in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.DesignSession, error)

	// DeleteExpired removes sessions not updated within ttl.
	DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Persistent reports whether data survives a process restart.
	Persistent() bool

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

func statusSet(statuses []domain.Status) map[domain.Status]bool {
	set := make(map[domain.Status]bool, len(statuses))
	for _, s := range statuses {
		set[s] = true
	}
	return set
}
