package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds the optimistic WATCH retry loop on contended keys.
// Each EXEC round commits exactly one contender, so the bound must cover
// the largest plausible burst of simultaneous appends for one user.
const maxTxRetries = 32

// RedisStore persists sessions as JSON values with a native Redis TTL.
type RedisStore struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, opts Options, logger *slog.Logger) *RedisStore {
	opts.applyDefaults()
	return &RedisStore{
		client: client,
		opts:   opts,
		logger: logger.With("component", "session", "backend", "redis"),
	}
}

// Get returns the live session for userID, or an empty log if none exists.
// Backend errors degrade to an empty session so one Redis hiccup doesn't
// take the bot down; the outage is logged instead.
func (s *RedisStore) Get(ctx context.Context, userID string) ([]Turn, error) {
	raw, err := s.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		s.logger.Warn("session read failed, starting with fresh context",
			"user", userID, "error", err)
		return nil, nil
	}

	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		s.logger.Warn("stored session is not valid JSON, discarding",
			"user", userID, "error", err)
		return nil, nil
	}
	return turns, nil
}

// Append atomically appends a turn, trims to the history cap, and persists
// with a full TTL. Per-user linearizability comes from WATCH on the
// conversation key with a bounded optimistic retry.
func (s *RedisStore) Append(ctx context.Context, userID string, turn Turn) ([]Turn, error) {
	k := key(userID)
	var result []Turn

	txf := func(tx *redis.Tx) error {
		var turns []Turn
		raw, err := tx.Get(ctx, k).Result()
		switch {
		case errors.Is(err, redis.Nil):
			turns = s.opts.seed()
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &turns); err != nil {
				// Corrupted record: reseed rather than fail every message.
				turns = s.opts.seed()
			}
		}

		turns = trim(append(turns, turn), s.opts.HistoryLength)
		buf, err := json.Marshal(turns)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, buf, s.opts.TTL)
			return nil
		})
		if err == nil {
			result = turns
		}
		return err
	}

	for range maxTxRetries {
		err := s.client.Watch(ctx, txf, k)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent write for the same user, retry
		}
		return nil, fmt.Errorf("session: append for %s: %w", userID, err)
	}
	return nil, fmt.Errorf("session: append for %s: key contention exceeded %d retries", userID, maxTxRetries)
}

// Clear deletes the session. Deleting an absent session is not an error.
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("session: clear for %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
