package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yumendev/taskvault/internal/auth"
	"github.com/yumendev/taskvault/internal/cache"
)

func newTestSessions(t *testing.T) *auth.SessionManager {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      "test-secret-key-for-unit-tests",
		TokenExpiry: time.Hour,
		Issuer:      "taskvault",
		Audience:    "taskvault-api",
	})
	store := cache.NewStore(client, time.Second, slog.Default())
	return auth.NewSessionManager(tokens, store, slog.Default())
}

func issueToken(t *testing.T, sessions *auth.SessionManager, active bool) string {
	t.Helper()

	token, _, err := sessions.Issue(context.Background(), auth.Identity{
		AccountID: "2f9d9a10-5a83-4f0e-9d3a-111111111111",
		Email:     "user@example.com",
		Handle:    "user",
		Active:    active,
		Verified:  true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()

	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("malformed error body: %v", err)
	}
	return resp.Error.Code
}

func TestAuthenticateInjectsIdentity(t *testing.T) {
	sessions := newTestSessions(t)
	mw := NewAuthMiddleware(sessions)
	token := issueToken(t, sessions, true)

	var gotUserID, gotEmail string
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = ExtractUserID(r.Context())
		gotEmail, _ = ExtractEmail(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithToken(token))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotUserID != "2f9d9a10-5a83-4f0e-9d3a-111111111111" {
		t.Errorf("user ID not injected, got %q", gotUserID)
	}
	if gotEmail != "user@example.com" {
		t.Errorf("email not injected, got %q", gotEmail)
	}
}

func TestAuthenticateMissingToken(t *testing.T) {
	mw := NewAuthMiddleware(newTestSessions(t))
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithToken(""))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != auth.CodeAuthTokenMissing {
		t.Errorf("code = %q", code)
	}
}

func TestAuthenticateRevokedToken(t *testing.T) {
	sessions := newTestSessions(t)
	mw := NewAuthMiddleware(sessions)
	token := issueToken(t, sessions, true)

	sessions.Revoke(context.Background(), token, auth.TriggerLogout)

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithToken(token))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != auth.CodeAuthTokenRevoked {
		t.Errorf("code = %q", code)
	}
}

func TestAuthenticateGarbageToken(t *testing.T) {
	mw := NewAuthMiddleware(newTestSessions(t))
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithToken("not.a.token"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != auth.CodeAuthTokenInvalid {
		t.Errorf("code = %q", code)
	}
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	sessions := newTestSessions(t)
	mw := NewAuthMiddleware(sessions)
	token := issueToken(t, sessions, false)

	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestWithToken(token))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != auth.CodeAccountInactive {
		t.Errorf("code = %q", code)
	}
}
