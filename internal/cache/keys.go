package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Key families. Every cached payload belongs to exactly one family and the
// invalidation table in coherency.go is written against these builders, so
// a new family cannot be added without deciding who invalidates it.
const (
	accountPrefix    = "account:"
	sessionPrefix    = "session:"
	revokedPrefix    = "revoked:"
	todosPrefix      = "todos:"
	categoriesPrefix = "categories:"
	tagsPrefix       = "tags:"
	overduePrefix    = "overdue:"
	upcomingPrefix   = "upcoming:"
	statsPrefix      = "stats:"
)

// AccountKey caches the account profile payload for one account.
func AccountKey(accountID string) string {
	return accountPrefix + accountID
}

// SessionKey tracks the canonical session token for one account.
func SessionKey(accountID string) string {
	return sessionPrefix + accountID
}

// RevocationKey marks an explicitly revoked token. The token value is
// hashed so raw credentials never appear as cache keys.
func RevocationKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedPrefix + hex.EncodeToString(sum[:])
}

// TodoListKey caches one page of a todo listing for a query shape.
func TodoListKey(accountID, queryShape string) string {
	return todosPrefix + accountID + ":" + queryShape
}

// TodoListPrefix matches every cached listing page for an account.
func TodoListPrefix(accountID string) string {
	return todosPrefix + accountID + ":"
}

// CategoriesKey caches the distinct category set for an account.
func CategoriesKey(accountID string) string {
	return categoriesPrefix + accountID
}

// TagsKey caches the distinct tag set for an account.
func TagsKey(accountID string) string {
	return tagsPrefix + accountID
}

// OverdueKey caches the overdue todo listing for an account.
func OverdueKey(accountID string) string {
	return overduePrefix + accountID
}

// UpcomingKey caches an upcoming-todos window for an account.
func UpcomingKey(accountID, window string) string {
	return upcomingPrefix + accountID + ":" + window
}

// UpcomingPrefix matches every cached upcoming window for an account.
func UpcomingPrefix(accountID string) string {
	return upcomingPrefix + accountID + ":"
}

// StatsKey caches aggregate todo statistics for an account.
func StatsKey(accountID string) string {
	return statsPrefix + accountID
}

// GetJSON reads and decodes a cached payload into out. A decode failure is
// treated as a miss so a stale schema never poisons a reader.
func GetJSON(ctx context.Context, s *Store, key string, out any) bool {
	data, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("cache payload decode failed, treating as miss", "key", key, "error", err)
		_ = s.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes and stores a payload under a key. Failures are absorbed;
// the entry is reconstructable from the durable store.
func SetJSON(ctx context.Context, s *Store, key string, value any, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache payload encode failed, skipping fill", "key", key, "error", err)
		return
	}
	_ = s.Set(ctx, key, data, ttl)
}
