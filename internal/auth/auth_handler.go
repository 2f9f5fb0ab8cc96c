package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	appctx "github.com/yumendev/taskvault/internal/context"
	"github.com/yumendev/taskvault/internal/ratelimit"
)

// APIResponse represents the standard API response format
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService *AuthService
	limiter     *ratelimit.Limiter
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, limiter *ratelimit.Limiter) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		limiter:     limiter,
	}
}

// Register handles user registration
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	response, validationErrors, err := h.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			WriteError(w, http.StatusConflict, CodeDuplicateAccount, "An account with this email already exists", nil)
		case errors.Is(err, ErrHandleExists):
			WriteError(w, http.StatusConflict, CodeDuplicateAccount, "This handle is already taken", nil)
		default:
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		}
		return
	}

	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	WriteSuccess(w, http.StatusCreated, response)
}

// Login handles user authentication
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	response, err := h.authService.Authenticate(r.Context(), req, ClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid email or password", nil)
		case errors.Is(err, ErrAccountLocked):
			WriteError(w, http.StatusForbidden, CodeAccountLocked, "Account temporarily locked due to repeated failed logins", nil)
		case errors.Is(err, ErrAccountInactive):
			WriteError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
		default:
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		}
		return
	}

	// A successful login ends the attempt window early; failed windows
	// expire by TTL.
	h.limiter.ResetLogin(r.Context(), ratelimit.LoginIdentity(ClientIP(r), req.Email))

	WriteSuccess(w, http.StatusOK, response)
}

// Logout revokes the presented token
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)

	if err := h.authService.Logout(r.Context(), token); err != nil {
		writeTokenError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Successfully logged out",
	})
}

// Refresh exchanges a valid token for a fresh one
// POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)

	response, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, response)
}

// GetMe returns the current user's profile
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	profile, err := h.authService.GetProfile(r.Context(), userID)
	if err != nil {
		writeUserError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"user": profile,
	})
}

// UpdateMe updates the current user's profile
// PUT /api/v1/auth/me
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	profile, validationErrors, err := h.authService.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, ErrHandleExists) {
			WriteError(w, http.StatusConflict, CodeDuplicateAccount, "This handle is already taken", nil)
			return
		}
		writeUserError(w, err)
		return
	}

	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"user": profile,
	})
}

// DeleteMe deactivates the current user's account
// DELETE /api/v1/auth/me
func (h *AuthHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	if err := h.authService.DeactivateAccount(r.Context(), userID, BearerToken(r)); err != nil {
		writeUserError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Account deactivated",
	})
}

// ChangePassword changes the current user's password
// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	validationErrors, err := h.authService.ChangePassword(r.Context(), userID, req, BearerToken(r))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, CodeInvalidCredentials, "Current password is incorrect", nil)
			return
		}
		writeUserError(w, err)
		return
	}

	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Password changed",
	})
}

// RequestPasswordReset starts a password reset flow
// POST /api/v1/auth/password-reset/request
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	// The response is identical for known and unknown emails.
	if _, err := h.authService.RequestPasswordReset(r.Context(), req.Email); err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "If the email is registered, a reset link has been sent",
	})
}

// ResetPassword completes a password reset flow
// POST /api/v1/auth/password-reset/confirm
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	validationErrors, err := h.authService.ResetPassword(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			WriteError(w, http.StatusBadRequest, CodeResetTokenInvalid, "Invalid or expired reset token", nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Password has been reset",
	})
}

// VerifyEmail marks the account email as verified
// POST /api/v1/auth/verify-email
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, ErrResetTokenInvalid) {
			WriteError(w, http.StatusBadRequest, CodeResetTokenInvalid, "Invalid verification token", nil)
			return
		}
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]string{
		"message": "Email verified",
	})
}

func writeValidationErrors(w http.ResponseWriter, validationErrors []ValidationError) {
	details := make(map[string][]string)
	for _, ve := range validationErrors {
		details[ve.Field] = append(details[ve.Field], ve.Message)
	}
	WriteError(w, http.StatusBadRequest, CodeValidationError, "Request validation failed", details)
}

func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenMissing):
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenMissing, "Authentication token is required", nil)
	case errors.Is(err, ErrTokenRevoked):
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenRevoked, "Token has been revoked", nil)
	case errors.Is(err, ErrTokenExpired):
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenExpired, "Token has expired", nil)
	case errors.Is(err, ErrTokenInvalid):
		WriteError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid token", nil)
	case errors.Is(err, ErrAccountInactive):
		WriteError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
	case errors.Is(err, ErrUserNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "User not found", nil)
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
	}
}

func writeUserError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		WriteError(w, http.StatusNotFound, CodeNotFound, "User not found", nil)
	case errors.Is(err, ErrAccountInactive):
		WriteError(w, http.StatusForbidden, CodeAccountInactive, "Account is deactivated", nil)
	default:
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "An unexpected error occurred", nil)
	}
}

// WriteSuccess writes a successful JSON response in the standard envelope
func WriteSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// WriteError writes an error JSON response in the standard envelope
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}

// BearerToken extracts the bearer token from the Authorization header
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ClientIP extracts the client IP address from the request
func ClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
			return strings.TrimSpace(parts[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
