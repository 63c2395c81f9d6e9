package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "ecoplan:"

// RedisConfig configures the Redis adapter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is applied to every session key on write. Zero disables expiry.
	TTL time.Duration
}

// RedisStore keeps sessions in Redis so several server processes can share
// them.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: cfg.TTL}, nil
}

func sessionKey(id string) string      { return redisPrefix + "session:" + id }
func messagesKey(id string) string     { return redisPrefix + "session:" + id + ":messages" }
func progressKey(id string) string     { return redisPrefix + "session:" + id + ":progress" }
func seqKey(id, log string) string     { return redisPrefix + "session:" + id + ":seq:" + log }
func statusKey(s domain.Status) string { return redisPrefix + "status:" + string(s) }

const updatedKey = redisPrefix + "sessions:updated"

func (r *RedisStore) sessionKeys(id string) []string {
	return []string{
		sessionKey(id), messagesKey(id), progressKey(id),
		seqKey(id, "messages"), seqKey(id, "progress"),
	}
}

// Create stores a new session.
func (r *RedisStore) Create(ctx context.Context, s *domain.DesignSession) error {
	s.Version = 1
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, sessionKey(s.SessionID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrExists
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, statusKey(s.Status), s.SessionID)
		pipe.ZAdd(ctx, updatedKey, redis.Z{Score: float64(s.UpdatedAt.Unix()), Member: s.SessionID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// Get returns the session.
func (r *RedisStore) Get(ctx context.Context, id string) (*domain.DesignSession, error) {
	data, err := r.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var s domain.DesignSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// Put replaces the session inside a WATCH transaction on its key.
func (r *RedisStore) Put(ctx context.Context, s *domain.DesignSession) error {
	key := sessionKey(s.SessionID)
	next := s.Clone()
	next.Version = s.Version + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var current domain.DesignSession
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decode session: %w", err)
		}
		if current.Version != s.Version {
			return ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			if current.Status != next.Status {
				pipe.SRem(ctx, statusKey(current.Status), s.SessionID)
				pipe.SAdd(ctx, statusKey(next.Status), s.SessionID)
			}
			pipe.ZAdd(ctx, updatedKey, redis.Z{Score: float64(next.UpdatedAt.Unix()), Member: s.SessionID})
			if r.ttl > 0 {
				for _, k := range r.sessionKeys(s.SessionID)[1:] {
					pipe.Expire(ctx, k, r.ttl)
				}
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		s.Version = next.Version
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return ErrVersionConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("put session: %w", err)
	}
}

// Delete removes the session, its logs and its index entries.
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	s, err := r.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKeys(id)...)
		pipe.ZRem(ctx, updatedKey, id)
		if s != nil {
			pipe.SRem(ctx, statusKey(s.Status), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) appendLog(ctx context.Context, id, log, key string, encode func(seq int64) ([]byte, error)) error {
	n, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	seq, err := r.rdb.Incr(ctx, seqKey(id, log)).Result()
	if err != nil {
		return fmt.Errorf("next %s seq: %w", log, err)
	}
	data, err := encode(seq)
	if err != nil {
		return err
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
			pipe.Expire(ctx, seqKey(id, log), r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", log, err)
	}
	return nil
}

// AppendMessage adds to the message log.
func (r *RedisStore) AppendMessage(ctx context.Context, id string, m *domain.StoredMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return r.appendLog(ctx, id, "messages", messagesKey(id), func(seq int64) ([]byte, error) {
		m.Seq = seq
		return json.Marshal(m)
	})
}

// Messages returns the message log.
func (r *RedisStore) Messages(ctx context.Context, id string) ([]domain.StoredMessage, error) {
	if err := r.exists(ctx, id); err != nil {
		return nil, err
	}
	raw, err := r.rdb.LRange(ctx, messagesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	out := make([]domain.StoredMessage, 0, len(raw))
	for _, item := range raw {
		var m domain.StoredMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// AppendProgress adds to the progress log.
func (r *RedisStore) AppendProgress(ctx context.Context, p *domain.ProgressSnapshot) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	return r.appendLog(ctx, p.SessionID, "progress", progressKey(p.SessionID), func(seq int64) ([]byte, error) {
		p.Seq = seq
		return json.Marshal(p)
	})
}

// LatestProgress returns the newest snapshot or nil.
func (r *RedisStore) LatestProgress(ctx context.Context, id string) (*domain.ProgressSnapshot, error) {
	if err := r.exists(ctx, id); err != nil {
		return nil, err
	}
	raw, err := r.rdb.LIndex(ctx, progressKey(id), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	var p domain.ProgressSnapshot
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &p, nil
}

// ListByStatus reads the status index sets. Ids whose session key already
// expired are pruned from the index.
func (r *RedisStore) ListByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.DesignSession, error) {
	var out []*domain.DesignSession
	for _, st := range statuses {
		ids, err := r.rdb.SMembers(ctx, statusKey(st)).Result()
		if err != nil {
			return nil, fmt.Errorf("read status index: %w", err)
		}
		for _, id := range ids {
			s, err := r.Get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				r.rdb.SRem(ctx, statusKey(st), id)
				continue
			}
			if err != nil {
				return nil, err
			}
			if s.Status == st {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

// DeleteExpired removes sessions whose last update is older than ttl.
func (r *RedisStore) DeleteExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-ttl).Unix(), 10)
	ids, err := r.rdb.ZRangeByScore(ctx, updatedKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("query expired sessions: %w", err)
	}
	var n int64
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Persistent is true: Redis outlives the process.
func (r *RedisStore) Persistent() bool { return true }

// Ping checks the connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

func (r *RedisStore) exists(ctx context.Context, id string) error {
	n, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
