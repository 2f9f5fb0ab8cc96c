package cache

import (
	"context"
	"log/slog"

	"github.com/yumendev/taskvault/internal/metrics"
)

// Invalidator maps each mutating operation to the cache keys it must drop.
// Invalidation runs synchronously after the durable write commits and
// before the response is returned. Failures are logged and swallowed: a
// stale entry heals at TTL expiry, whereas failing the mutation would not.
type Invalidator struct {
	store  *Store
	logger *slog.Logger
}

// NewInvalidator creates an Invalidator over the given cache store.
func NewInvalidator(store *Store, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{store: store, logger: logger}
}

// InvalidateAccount drops the cached profile after any account mutation
// (profile update, lockout counter write, password change, deactivation).
func (i *Invalidator) InvalidateAccount(ctx context.Context, accountID string) {
	i.drop(ctx, accountID, "account", AccountKey(accountID))
}

// InvalidateTodoData drops every derived todo read for an account after a
// todo-collection write: listing pages, category and tag sets, overdue and
// upcoming windows, and aggregate statistics.
func (i *Invalidator) InvalidateTodoData(ctx context.Context, accountID string) {
	i.drop(ctx, accountID, "todo",
		CategoriesKey(accountID),
		TagsKey(accountID),
		OverdueKey(accountID),
		StatsKey(accountID),
	)
	i.dropPrefix(ctx, accountID, "todo", TodoListPrefix(accountID))
	i.dropPrefix(ctx, accountID, "todo", UpcomingPrefix(accountID))
}

// InvalidateAll drops every cached entry for an account. Used on password
// change, account deactivation, and the explicit invalidate operation.
func (i *Invalidator) InvalidateAll(ctx context.Context, accountID string) {
	i.InvalidateAccount(ctx, accountID)
	i.InvalidateTodoData(ctx, accountID)
}

func (i *Invalidator) drop(ctx context.Context, accountID, family string, keys ...string) {
	if err := i.store.Delete(ctx, keys...); err != nil {
		i.logger.Warn("cache invalidation failed, entries will heal at TTL",
			"account_id", accountID, "family", family, "error", err)
		return
	}
	metrics.CacheInvalidations.WithLabelValues(family).Add(float64(len(keys)))
}

func (i *Invalidator) dropPrefix(ctx context.Context, accountID, family, prefix string) {
	if err := i.store.DeleteByPrefix(ctx, prefix); err != nil {
		i.logger.Warn("cache prefix invalidation failed, entries will heal at TTL",
			"account_id", accountID, "family", family, "prefix", prefix, "error", err)
		return
	}
	metrics.CacheInvalidations.WithLabelValues(family).Inc()
}
