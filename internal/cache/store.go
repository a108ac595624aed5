// Package cache implements the event-sourced object cache: accounts,
// orders and positions are never stored as mutable rows, only as
// append-only event lists that get folded back into an entity on load
// (spec.md §4.6).
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store is the seven persistence operations the cache needs from an
// external key/value server (spec.md §6): list-append, list-range,
// hash-set, hash-get-all, key-scan-by-prefix, delete, flush-db.
type Store interface {
	ListAppend(ctx context.Context, key string, value []byte) (int64, error)
	ListRange(ctx context.Context, key string) ([][]byte, error)
	HashSet(ctx context.Context, key, field string, value []byte) error
	HashGetAll(ctx context.Context, key string) (map[string][]byte, error)
	ScanKeys(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
	FlushDB(ctx context.Context) error
}

// RedisStore implements Store over github.com/redis/go-redis/v9,
// wrapping every call with a context deadline already imposed by the
// caller and structured logging on failure, in the teacher-pack's
// client-wrapping style (DimaJoyti-ai-agentic-crypto-browser's
// RedisClient).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr and verifies connectivity with a Ping
// before returning, so a misconfigured store fails fast at startup
// rather than on the first matching-engine event.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: unable to reach redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// ListAppend pushes value to the tail of key's list and returns the
// list's length after the push, so callers can apply the add/update
// integrity check in spec.md §4.6.
func (s *RedisStore) ListAppend(ctx context.Context, key string, value []byte) (int64, error) {
	n, err := s.client.RPush(ctx, key, value).Result()
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("cache: list append failed")
		return 0, fmt.Errorf("cache: list append %s: %w", key, err)
	}
	return n, nil
}

// ListRange returns every element of key's list, oldest first.
func (s *RedisStore) ListRange(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("cache: list range failed")
		return nil, fmt.Errorf("cache: list range %s: %w", key, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// HashSet sets one field of key's hash.
func (s *RedisStore) HashSet(ctx context.Context, key, field string, value []byte) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		log.Error().Str("key", key).Str("field", field).Err(err).Msg("cache: hash set failed")
		return fmt.Errorf("cache: hash set %s/%s: %w", key, field, err)
	}
	return nil
}

// HashGetAll returns every field/value pair of key's hash.
func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		log.Error().Str("key", key).Err(err).Msg("cache: hash get-all failed")
		return nil, fmt.Errorf("cache: hash get-all %s: %w", key, err)
	}
	out := make(map[string][]byte, len(vals))
	for field, v := range vals {
		out[field] = []byte(v)
	}
	return out, nil
}

// ScanKeys returns every key matching prefix+"*", cursoring until
// exhausted rather than relying on KEYS (which blocks the server).
func (s *RedisStore) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			log.Error().Str("prefix", prefix).Err(err).Msg("cache: key scan failed")
			return nil, fmt.Errorf("cache: scan %s*: %w", prefix, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Delete removes the given keys, a no-op if keys is empty.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		log.Error().Strs("keys", keys).Err(err).Msg("cache: delete failed")
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

// FlushDB clears the entire selected database. Used only by test setup
// and the session-reset path; never called from the matching hot path.
func (s *RedisStore) FlushDB(ctx context.Context) error {
	if err := s.client.FlushDB(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("cache: flushdb failed")
		return fmt.Errorf("cache: flushdb: %w", err)
	}
	return nil
}
