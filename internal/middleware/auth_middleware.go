package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yumendev/taskvault/internal/auth"
	appctx "github.com/yumendev/taskvault/internal/context"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware authenticates protected routes. Validation goes through
// the session manager so the revocation list is consulted before the
// signature check.
type AuthMiddleware struct {
	sessions *auth.SessionManager
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(sessions *auth.SessionManager) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
	}
}

// Authenticate validates the bearer token from the Authorization header
// and injects the account identity into the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r)

		claims, err := m.sessions.Validate(r.Context(), token)
		if err != nil {
			code, message := tokenErrorCode(err)
			m.writeError(w, http.StatusUnauthorized, code, message)
			return
		}

		if !claims.Active {
			m.writeError(w, http.StatusForbidden, auth.CodeAccountInactive, "Account is deactivated")
			return
		}

		ctx := context.WithValue(r.Context(), appctx.UserIDKey, claims.UserID())
		ctx = context.WithValue(ctx, appctx.EmailKey, claims.Email)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenErrorCode(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return auth.CodeAuthTokenMissing, "Authorization header is required"
	case errors.Is(err, auth.ErrTokenRevoked):
		return auth.CodeAuthTokenRevoked, "Token has been revoked"
	case errors.Is(err, auth.ErrTokenExpired):
		return auth.CodeAuthTokenExpired, "Token has expired"
	default:
		return auth.CodeAuthTokenInvalid, "Invalid token"
	}
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	return appctx.ExtractUserID(ctx)
}

// ExtractEmail extracts the email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	return appctx.ExtractEmail(ctx)
}
