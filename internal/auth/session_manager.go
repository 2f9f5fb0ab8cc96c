package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/metrics"
)

// SessionManager owns the session lifecycle: issuing tokens, tracking the
// canonical session pointer per account, revoking tokens, and validating
// presented tokens with the revocation check ahead of everything else.
//
// Revocation entries and the session pointer live in the shared cache. A
// cache outage degrades behavior rather than failing requests: issuance and
// revocation log the miss and continue, while validation treats an
// unreadable revocation list as "not revoked".
type SessionManager struct {
	tokens *TokenService
	store  *cache.Store
	logger *slog.Logger
}

// NewSessionManager creates a new SessionManager instance
func NewSessionManager(tokens *TokenService, store *cache.Store, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		tokens: tokens,
		store:  store,
		logger: logger,
	}
}

// Issue generates a fresh token for the identity and records it as the
// account's canonical session. The pointer write is best effort; the token
// is valid regardless.
func (m *SessionManager) Issue(ctx context.Context, id Identity) (string, time.Time, error) {
	token, expiresAt, err := m.tokens.Generate(id)
	if err != nil {
		return "", time.Time{}, err
	}

	ttl := time.Until(expiresAt)
	if err := m.store.Set(ctx, cache.SessionKey(id.AccountID), []byte(token), ttl); err != nil {
		m.logger.WarnContext(ctx, "failed to record canonical session",
			slog.String("user_id", id.AccountID),
			slog.String("error", err.Error()))
	}

	return token, expiresAt, nil
}

// Revoke marks a token as revoked for exactly its remaining lifetime. A
// token already past its expiry needs no entry; its signature check rejects
// it anyway. The trigger labels the revocation reason for metrics.
func (m *SessionManager) Revoke(ctx context.Context, token, trigger string) {
	if token == "" {
		return
	}

	expiresAt, err := m.tokens.PeekExpiry(token)
	if err != nil {
		m.logger.WarnContext(ctx, "cannot revoke malformed token",
			slog.String("trigger", trigger))
		return
	}

	remaining := time.Until(expiresAt)
	if remaining <= 0 {
		return
	}

	if err := m.store.Set(ctx, cache.RevocationKey(token), []byte("1"), remaining); err != nil {
		m.logger.ErrorContext(ctx, "failed to write revocation entry",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()))
		return
	}

	metrics.TokensRevoked.WithLabelValues(trigger).Inc()
}

// RevokeCurrent revokes the account's canonical session token and clears
// the pointer. When the pointer is unreadable the fallback token, normally
// the one on the current request, is revoked instead so the caller's own
// credential is always invalidated.
func (m *SessionManager) RevokeCurrent(ctx context.Context, accountID, fallbackToken, trigger string) {
	key := cache.SessionKey(accountID)

	current, found := m.store.Get(ctx, key)
	if found && len(current) > 0 {
		m.Revoke(ctx, string(current), trigger)
	} else if fallbackToken != "" {
		m.Revoke(ctx, fallbackToken, trigger)
	}

	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.WarnContext(ctx, "failed to clear session pointer",
			slog.String("user_id", accountID),
			slog.String("error", err.Error()))
	}
}

// Validate checks a presented token. Order matters: the revocation list is
// consulted before the signature so a revoked token is rejected even while
// it is still cryptographically valid.
func (m *SessionManager) Validate(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	if revoked := m.store.Exists(ctx, cache.RevocationKey(token)); revoked {
		return nil, ErrTokenRevoked
	}

	return m.tokens.Verify(token)
}
