package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/metrics"
	"github.com/yumendev/taskvault/internal/repository"
)

// LockoutPolicy counts consecutive failed logins per account and engages a
// timed lock once the threshold is hit. State lives in the users table, so
// a lock survives cache flushes and is visible to every instance; reads go
// through the account row the login flow already fetched. Concurrent
// failures may under-count by a few attempts, which only delays the lock
// by the same margin.
type LockoutPolicy struct {
	users        repository.UserRepository
	invalidator  *cache.Invalidator
	maxAttempts  int
	lockDuration time.Duration
	logger       *slog.Logger
}

// NewLockoutPolicy creates a new LockoutPolicy instance
func NewLockoutPolicy(users repository.UserRepository, invalidator *cache.Invalidator, maxAttempts int, lockDuration time.Duration, logger *slog.Logger) *LockoutPolicy {
	return &LockoutPolicy{
		users:        users,
		invalidator:  invalidator,
		maxAttempts:  maxAttempts,
		lockDuration: lockDuration,
		logger:       logger,
	}
}

// IsLocked reports whether the account is currently locked and when the
// lock expires.
func (p *LockoutPolicy) IsLocked(user *repository.User, now time.Time) (bool, time.Time) {
	if user.Locked(now) {
		return true, *user.LockedUntil
	}
	return false, time.Time{}
}

// OnSuccess resets the failure counter and clears any expired lock after a
// successful password check, then drops the cached account snapshot.
func (p *LockoutPolicy) OnSuccess(ctx context.Context, userID uuid.UUID, remoteIP string) error {
	if err := p.users.RecordLoginSuccess(ctx, userID, remoteIP); err != nil {
		return err
	}
	p.invalidator.InvalidateAccount(ctx, userID.String())
	return nil
}

// OnFailure records a failed attempt and engages the lock when the counter
// reaches the threshold. Returns the lock expiry when a lock is in effect.
func (p *LockoutPolicy) OnFailure(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	lockUntil := time.Now().Add(p.lockDuration)
	attempts, lockedUntil, err := p.users.RecordLoginFailure(ctx, userID, p.maxAttempts, lockUntil)
	if err != nil {
		return nil, err
	}

	p.invalidator.InvalidateAccount(ctx, userID.String())

	if lockedUntil != nil && attempts >= p.maxAttempts {
		metrics.LockoutsEngaged.Inc()
		p.logger.WarnContext(ctx, "account locked after repeated failed logins",
			slog.String("user_id", userID.String()),
			slog.Int("failed_attempts", attempts),
			slog.Time("locked_until", *lockedUntil))
	}

	return lockedUntil, nil
}
