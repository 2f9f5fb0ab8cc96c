// Package cache provides the Redis-backed key-value layer shared by all
// serving processes: derived read caches, the canonical session pointer,
// token revocation entries, and rate-limit counters.
//
// Reads fail open (an unreachable store is a miss) and writes fail soft
// (logged, reported to the caller, never raised to the request). The
// relational store stays authoritative for everything cached here.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yumendev/taskvault/internal/metrics"
)

// ErrUnavailable indicates the cache store could not complete a write.
var ErrUnavailable = errors.New("cache unavailable")

const defaultCommandTimeout = 2 * time.Second

// scanBatchSize bounds each SCAN iteration during prefix deletes.
const scanBatchSize = 500

// Store is a thin client over Redis with bounded command timeouts.
type Store struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  *slog.Logger
}

// NewStore creates a cache Store backed by the given Redis client.
func NewStore(client redis.UniversalClient, timeout time.Duration, logger *slog.Logger) *Store {
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

// Get retrieves the raw value for a key. A missing key and an unreachable
// store both report a miss; the caller falls back to the durable store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("cache get failed, treating as miss", "key", key, "error", err)
			metrics.CacheErrors.Inc()
		}
		metrics.CacheMisses.Inc()
		return nil, false
	}

	metrics.CacheHits.Inc()
	return data, true
}

// Set stores a value under a key with the given TTL. Failures are logged
// and returned; callers treat them as a skipped cache fill.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
		metrics.CacheErrors.Inc()
		return ErrUnavailable
	}
	return nil
}

// Delete removes one or more keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("cache delete failed", "keys", keys, "error", err)
		metrics.CacheErrors.Inc()
		return ErrUnavailable
	}
	return nil
}

// DeleteByPrefix removes every key matching prefix + "*" using SCAN so the
// store is never blocked by a KEYS call.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	pattern := prefix + "*"
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			s.logger.Warn("cache prefix scan failed", "prefix", prefix, "error", err)
			metrics.CacheErrors.Inc()
			return ErrUnavailable
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.logger.Warn("cache prefix delete failed", "prefix", prefix, "error", err)
				metrics.CacheErrors.Inc()
				return ErrUnavailable
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Increment atomically adds delta to a counter key and returns the new value.
func (s *Store) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	count, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		s.logger.Warn("cache increment failed", "key", key, "error", err)
		metrics.CacheErrors.Inc()
		return 0, ErrUnavailable
	}
	return count, nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.logger.Warn("cache expire failed", "key", key, "error", err)
		metrics.CacheErrors.Inc()
		return ErrUnavailable
	}
	return nil
}

// TTL returns the remaining lifetime of a key. Keys without a TTL or an
// unreachable store report zero.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		s.logger.Warn("cache ttl lookup failed", "key", key, "error", err)
		metrics.CacheErrors.Inc()
		return 0, ErrUnavailable
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// Exists reports whether a key is present. An unreachable store reports
// absence, which keeps revocation checks fail-open for reads while the
// token's own expiry still bounds the exposure.
func (s *Store) Exists(ctx context.Context, key string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		s.logger.Warn("cache exists check failed, treating as absent", "key", key, "error", err)
		metrics.CacheErrors.Inc()
		return false
	}
	return n > 0
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}
