package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	busyRetries   = 3
	busyBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS design_sessions (
		session_id TEXT PRIMARY KEY,
		project_type TEXT NOT NULL,
		status TEXT NOT NULL,
		generation TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_design_sessions_status ON design_sessions(status);
	CREATE INDEX IF NOT EXISTS idx_design_sessions_updated ON design_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_messages (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS progress_snapshots (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		attempt_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Persistent is true: sessions survive restarts.
func (s *SQLiteStore) Persistent() bool { return true }

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *domain.DesignSession) error {
	sess.Version = 1
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	query := `
	INSERT INTO design_sessions (session_id, project_type, status, generation, version, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	err = shared.RetryOnSQLiteConflict(ctx, "create session", busyRetries, busyBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			sess.SessionID, string(sess.ProjectType), string(sess.Status), string(sess.Generation),
			sess.Version, string(data), sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.DesignSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, version FROM design_sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.DesignSession, error) {
	var data string
	var version int64
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	var sess domain.DesignSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess.Version = version
	return &sess, nil
}

// Put updates the session if its version still matches.
func (s *SQLiteStore) Put(ctx context.Context, sess *domain.DesignSession) error {
	next := sess.Clone()
	next.Version = sess.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	query := `
	UPDATE design_sessions
	SET status = ?, generation = ?, version = ?, data = ?, updated_at = ?
	WHERE session_id = ? AND version = ?`

	var rows int64
	err = shared.RetryOnSQLiteConflict(ctx, "put session", busyRetries, busyBaseDelay, func() error {
		result, err := s.db.ExecContext(ctx, query,
			string(sess.Status), string(sess.Generation), next.Version, string(data),
			sess.UpdatedAt.Unix(), sess.SessionID, sess.Version,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM design_sessions WHERE session_id = ?`, sess.SessionID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		slog.Warn("session update lost optimistic lock", "session_id", sess.SessionID, "version", sess.Version)
		return ErrVersionConflict
	}

	sess.Version = next.Version
	return nil
}

// Delete removes a session and its logs.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return shared.RetryOnSQLiteConflict(ctx, "delete session", busyRetries, busyBaseDelay, func() error {
		return s.deleteOnce(ctx, id)
	})
}

func (s *SQLiteStore) deleteOnce(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{
		`DELETE FROM session_messages WHERE session_id = ?`,
		`DELETE FROM progress_snapshots WHERE session_id = ?`,
		`DELETE FROM design_sessions WHERE session_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return tx.Commit()
}

// AppendMessage adds a message and assigns its sequence number.
func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg *domain.StoredMessage) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	return shared.RetryOnSQLiteConflict(ctx, "append message", busyRetries, busyBaseDelay, func() error {
		return s.withSession(ctx, id, func(tx *sql.Tx) error {
			var seq int64
			err := tx.QueryRowContext(ctx, `
				INSERT INTO session_messages (session_id, seq, kind, role, content, created_at)
				SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?
				FROM session_messages WHERE session_id = ?
				RETURNING seq`,
				id, string(msg.Kind), msg.Role, msg.Content, msg.CreatedAt.Unix(), id,
			).Scan(&seq)
			if err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
			msg.Seq = seq
			return nil
		})
	})
}

// Messages returns the message log in order.
func (s *SQLiteStore) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, role, content, created_at
		FROM session_messages WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	var out []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		var kind string
		var createdAt int64
		if err := rows.Scan(&m.Seq, &kind, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// AppendProgress adds a progress snapshot and assigns its sequence number.
func (s *SQLiteStore) AppendProgress(ctx context.Context, p *domain.ProgressSnapshot) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return shared.RetryOnSQLiteConflict(ctx, "append progress", busyRetries, busyBaseDelay, func() error {
		return s.withSession(ctx, p.SessionID, func(tx *sql.Tx) error {
			var seq int64
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(seq), 0) + 1 FROM progress_snapshots WHERE session_id = ?`, p.SessionID,
			).Scan(&seq); err != nil {
				return fmt.Errorf("next progress seq: %w", err)
			}
			p.Seq = seq

			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode progress: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO progress_snapshots (session_id, seq, attempt_id, phase, status, data, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.SessionID, seq, p.AttemptID, string(p.Phase), string(p.Status), string(data), p.CreatedAt.Unix(),
			)
			if err != nil {
				return fmt.Errorf("insert progress: %w", err)
			}
			return nil
		})
	})
}

// LatestProgress returns the newest snapshot or nil when none exists.
func (s *SQLiteStore) LatestProgress(ctx context.Context, id string) (*domain.ProgressSnapshot, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM progress_snapshots
		WHERE session_id = ? ORDER BY seq DESC LIMIT 1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest progress: %w", err)
	}

	var p domain.ProgressSnapshot
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}

// ListByStatus returns every session in one of the statuses.
func (s *SQLiteStore) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.DesignSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT data, version FROM design_sessions WHERE status IN (`+placeholders+`) ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions by status: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var out []*domain.DesignSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// DeleteExpired removes sessions idle for longer than ttl, with their logs.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	var n int64
	err := shared.RetryOnSQLiteConflict(ctx, "delete expired sessions", busyRetries, busyBaseDelay, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, `DELETE FROM design_sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return err
		}
		if n, err = result.RowsAffected(); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM session_messages WHERE session_id NOT IN (SELECT session_id FROM design_sessions)`,
			`DELETE FROM progress_snapshots WHERE session_id NOT IN (SELECT session_id FROM design_sessions)`,
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM design_sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	return nil
}

// withSession runs fn in a transaction after checking the session exists.
func (s *SQLiteStore) withSession(ctx context.Context, id string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM design_sessions WHERE session_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
