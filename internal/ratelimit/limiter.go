// Package ratelimit enforces distributed fixed-window rate limits shared by
// every serving process through the cache store.
//
// Windows are anchored to the first request, not wall-clock boundaries: the
// counter's TTL is set only when the increment returns 1. A client can
// therefore burst up to twice the nominal rate across a window boundary;
// thresholds are tuned against that behavior.
package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/config"
	"github.com/yumendev/taskvault/internal/metrics"
)

// Class identifies an operation class with its own counter and threshold.
type Class string

const (
	ClassRegistration  Class = "registration"
	ClassLogin         Class = "login"
	ClassPasswordReset Class = "password_reset"
	ClassAPI           Class = "api"
	ClassQuery         Class = "query"
)

// Code returns the class-specific rejection code for API responses.
func (c Class) Code() string {
	switch c {
	case ClassRegistration:
		return "RATE_LIMITED_REGISTRATION"
	case ClassLogin:
		return "RATE_LIMITED_LOGIN"
	case ClassPasswordReset:
		return "RATE_LIMITED_PASSWORD_RESET"
	case ClassQuery:
		return "RATE_LIMITED_QUERY"
	default:
		return "RATE_LIMITED_API"
	}
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Code       string
}

type classPolicy struct {
	limit  int
	window time.Duration
}

// Limiter enforces per-class fixed-window limits backed by the cache store.
// An unreachable store fails open: limiting degrades before availability does.
type Limiter struct {
	store    *cache.Store
	policies map[Class]classPolicy
	logger   *slog.Logger
}

// New creates a Limiter with per-class thresholds from configuration.
func New(store *cache.Store, cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  store,
		logger: logger,
		policies: map[Class]classPolicy{
			ClassRegistration:  {limit: cfg.RegistrationLimit, window: cfg.RegistrationWindow},
			ClassLogin:         {limit: cfg.LoginLimit, window: cfg.LoginWindow},
			ClassPasswordReset: {limit: cfg.PasswordResetLimit, window: cfg.PasswordResetWindow},
			ClassAPI:           {limit: cfg.APILimit, window: cfg.APIWindow},
			ClassQuery:         {limit: cfg.QueryLimit, window: cfg.QueryWindow},
		},
	}
}

// Allow increments the counter for (class, identity) and decides whether the
// request proceeds. identity is the client network identity, optionally
// combined with a stricter scope by the caller (e.g. IP plus target email
// for login attempts).
func (l *Limiter) Allow(ctx context.Context, class Class, identity string) Decision {
	policy, ok := l.policies[class]
	if !ok {
		policy = l.policies[ClassAPI]
	}

	key := counterKey(class, identity)

	count, err := l.store.Increment(ctx, key, 1)
	if err != nil {
		// Counter store down: allow rather than lock everyone out.
		l.logger.Warn("rate-limit counter unavailable, failing open",
			"class", string(class), "error", err)
		metrics.RateLimitFailOpen.Inc()
		return Decision{Allowed: true, Limit: policy.limit, Remaining: policy.limit, Code: class.Code()}
	}

	// First hit in the window anchors it.
	if count == 1 {
		if err := l.store.Expire(ctx, key, policy.window); err != nil {
			l.logger.Warn("rate-limit window TTL not set",
				"class", string(class), "error", err)
		}
	}

	if count > int64(policy.limit) {
		metrics.RateLimitRejections.WithLabelValues(string(class)).Inc()
		retryAfter, _ := l.store.TTL(ctx, key)
		return Decision{
			Allowed:    false,
			Limit:      policy.limit,
			Remaining:  0,
			RetryAfter: retryAfter,
			Code:       class.Code(),
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     policy.limit,
		Remaining: policy.limit - int(count),
		Code:      class.Code(),
	}
}

// ResetLogin clears the login counter for an identity after a successful
// authentication. This is the only explicit counter reset; every other
// window ends by TTL expiry.
func (l *Limiter) ResetLogin(ctx context.Context, identity string) {
	if err := l.store.Delete(ctx, counterKey(ClassLogin, identity)); err != nil {
		l.logger.Warn("login rate-limit reset failed", "error", err)
	}
}

// LoginIdentity builds the limiter identity for a login attempt: client
// address plus the normalized target email when one is present.
func LoginIdentity(clientAddr, email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return clientAddr
	}
	return clientAddr + ":" + email
}

func counterKey(class Class, identity string) string {
	return "ratelimit:" + string(class) + ":" + identity
}
