package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yumendev/taskvault/internal/auth"
	appctx "github.com/yumendev/taskvault/internal/context"
	"github.com/yumendev/taskvault/internal/ratelimit"
)

const maxPeekBody = 1 << 16

// RateLimitMiddleware applies per-class request limits backed by the shared
// limiter. Identity selection varies by class: anonymous endpoints key on
// the client address, login additionally scopes to the target email, and
// authenticated endpoints key on the account ID.
type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
}

// NewRateLimitMiddleware creates a new RateLimitMiddleware instance
func NewRateLimitMiddleware(limiter *ratelimit.Limiter) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
	}
}

// ByIP limits a class on the client network address
func (m *RateLimitMiddleware) ByIP(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := m.limiter.Allow(r.Context(), class, auth.ClientIP(r))
			if !m.apply(w, decision) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByClient limits a class on the authenticated account when present,
// falling back to the client address for anonymous requests.
func (m *RateLimitMiddleware) ByClient(class ratelimit.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.ClientIP(r)
			if userID, ok := appctx.ExtractUserID(r.Context()); ok {
				identity = userID
			}
			decision := m.limiter.Allow(r.Context(), class, identity)
			if !m.apply(w, decision) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Login limits login attempts on client address plus target email, so one
// address cannot burn through attempts against many accounts and a
// distributed attack against one account is still counted per source.
func (m *RateLimitMiddleware) Login(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := ratelimit.LoginIdentity(auth.ClientIP(r), peekEmail(r))

		decision := m.limiter.Allow(r.Context(), ratelimit.ClassLogin, identity)
		if !m.apply(w, decision) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apply writes limit headers and, on rejection, the 429 response. Returns
// true when the request may proceed.
func (m *RateLimitMiddleware) apply(w http.ResponseWriter, d ratelimit.Decision) bool {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

	if d.Allowed {
		return true
	}

	retryAfter := int(d.RetryAfter / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

	auth.WriteError(w, http.StatusTooManyRequests, d.Code,
		"Rate limit exceeded. Please try again later.",
		map[string][]string{"retry_after": {strconv.Itoa(retryAfter)}})
	return false
}

// peekEmail reads the email field from a JSON body without consuming it.
// A body that cannot be parsed yields an empty email; the handler will
// reject it anyway.
func peekEmail(r *http.Request) string {
	if r.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var payload struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(strings.ToLower(payload.Email))
}
