package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/config"
	appctx "github.com/yumendev/taskvault/internal/context"
	"github.com/yumendev/taskvault/internal/ratelimit"
)

func newTestRateLimitMiddleware(t *testing.T) *RateLimitMiddleware {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := cache.NewStore(client, time.Second, slog.Default())
	limiter := ratelimit.New(store, config.RateLimitConfig{
		RegistrationLimit:   3,
		RegistrationWindow:  time.Hour,
		LoginLimit:          2,
		LoginWindow:         time.Minute,
		PasswordResetLimit:  3,
		PasswordResetWindow: time.Hour,
		APILimit:            100,
		APIWindow:           time.Minute,
		QueryLimit:          30,
		QueryWindow:         time.Minute,
	}, slog.Default())
	return NewRateLimitMiddleware(limiter)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestByIPRejectsOverLimit(t *testing.T) {
	mw := newTestRateLimitMiddleware(t)
	handler := mw.ByIP(ratelimit.ClassRegistration)(okHandler())

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/register", nil)
		r.RemoteAddr = "198.51.100.7:4242"
		handler.ServeHTTP(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/register", nil)
	r.RemoteAddr = "198.51.100.7:4242"
	handler.ServeHTTP(rec, r)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("rejection must carry Retry-After")
	}
	if !strings.Contains(rec.Body.String(), "RATE_LIMITED_REGISTRATION") {
		t.Errorf("body missing class code: %s", rec.Body.String())
	}

	// A different address is unaffected.
	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/register", nil)
	r.RemoteAddr = "203.0.113.1:4242"
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Errorf("other address: status = %d", rec.Code)
	}
}

func TestRateLimitHeaders(t *testing.T) {
	mw := newTestRateLimitMiddleware(t)
	handler := mw.ByIP(ratelimit.ClassRegistration)(okHandler())

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/register", nil)
	r.RemoteAddr = "198.51.100.7:4242"
	handler.ServeHTTP(rec, r)

	if rec.Header().Get("X-RateLimit-Limit") != "3" {
		t.Errorf("limit header = %q", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "2" {
		t.Errorf("remaining header = %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestByClientPrefersAccountIdentity(t *testing.T) {
	mw := newTestRateLimitMiddleware(t)
	handler := mw.ByClient(ratelimit.ClassLogin)(okHandler())

	send := func(userID string) int {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/todos", nil)
		r.RemoteAddr = "198.51.100.7:4242"
		if userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), appctx.UserIDKey, userID))
		}
		handler.ServeHTTP(rec, r)
		return rec.Code
	}

	// Exhaust the window for account a.
	send("account-a")
	send("account-a")
	if code := send("account-a"); code != http.StatusTooManyRequests {
		t.Fatalf("account-a third request: status = %d", code)
	}

	// Same address, different account: separate counter.
	if code := send("account-b"); code != http.StatusOK {
		t.Errorf("account-b: status = %d", code)
	}
	// Anonymous from the same address: keyed on the address instead.
	if code := send(""); code != http.StatusOK {
		t.Errorf("anonymous: status = %d", code)
	}
}

func TestLoginScopesToAddressAndEmail(t *testing.T) {
	mw := newTestRateLimitMiddleware(t)
	handler := mw.Login(okHandler())

	send := func(email string) int {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"`+email+`","password":"x"}`))
		r.RemoteAddr = "198.51.100.7:4242"
		handler.ServeHTTP(rec, r)
		return rec.Code
	}

	send("a@example.com")
	send("a@example.com")
	if code := send("a@example.com"); code != http.StatusTooManyRequests {
		t.Fatalf("third attempt for same pair: status = %d", code)
	}

	// Same address against another account is counted separately.
	if code := send("b@example.com"); code != http.StatusOK {
		t.Errorf("other email: status = %d", code)
	}
}

func TestLoginBodySurvivesPeek(t *testing.T) {
	mw := newTestRateLimitMiddleware(t)

	var seen string
	handler := mw.Login(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, 256)
		n, _ := r.Body.Read(body)
		seen = string(body[:n])
		w.WriteHeader(http.StatusOK)
	}))

	payload := `{"email":"a@example.com","password":"x"}`
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(payload))
	r.RemoteAddr = "198.51.100.7:4242"
	handler.ServeHTTP(rec, r)

	if seen != payload {
		t.Errorf("handler saw %q, want the full body", seen)
	}
}

func TestLoginIdentity(t *testing.T) {
	if got := ratelimit.LoginIdentity("1.2.3.4", "User@Example.com"); got != "1.2.3.4:user@example.com" {
		t.Errorf("got %q", got)
	}
	if got := ratelimit.LoginIdentity("1.2.3.4", ""); got != "1.2.3.4" {
		t.Errorf("got %q", got)
	}
}
