package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/metrics"
	"github.com/yumendev/taskvault/internal/repository"
)

// Auth service errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountInactive    = errors.New("account is deactivated")
	ErrTokenMissing       = errors.New("authentication token missing")
	ErrTokenInvalid       = errors.New("authentication token invalid")
	ErrTokenExpired       = errors.New("authentication token expired")
	ErrTokenRevoked       = errors.New("authentication token revoked")
	ErrEmailExists        = errors.New("email already registered")
	ErrHandleExists       = errors.New("handle already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrResetTokenInvalid  = errors.New("invalid or expired reset token")
)

// Error codes for API responses
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeAuthTokenMissing   = "AUTH_TOKEN_MISSING"
	CodeAuthTokenInvalid   = "AUTH_TOKEN_INVALID"
	CodeAuthTokenExpired   = "AUTH_TOKEN_EXPIRED"
	CodeAuthTokenRevoked   = "AUTH_TOKEN_REVOKED"
	CodeDuplicateAccount   = "DUPLICATE_ACCOUNT"
	CodeNotFound           = "NOT_FOUND"
	CodeResetTokenInvalid  = "RESET_TOKEN_INVALID"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Revocation triggers, used as metric labels
const (
	TriggerLogout         = "logout"
	TriggerRefresh        = "refresh"
	TriggerPasswordChange = "password_change"
	TriggerPasswordReset  = "password_reset"
	TriggerDeactivation   = "deactivation"
)

const accountCacheTTL = 15 * time.Minute

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email           string `json:"email"`
	Handle          string `json:"handle"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest represents the password change payload
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ResetPasswordRequest represents the password reset completion payload
type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// UpdateProfileRequest represents the profile update payload
type UpdateProfileRequest struct {
	Handle      string            `json:"handle"`
	Preferences map[string]string `json:"preferences"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	User  UserResponse  `json:"user"`
	Token TokenResponse `json:"token"`
}

// TokenResponse represents the issued session token
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Handle        string            `json:"handle"`
	EmailVerified bool              `json:"email_verified"`
	Preferences   map[string]string `json:"preferences,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastLogin     *time.Time        `json:"last_login,omitempty"`
}

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AuthService handles authentication business logic
type AuthService struct {
	userRepo          repository.UserRepository
	sessions          *SessionManager
	lockout           *LockoutPolicy
	passwordValidator *PasswordValidator
	store             *cache.Store
	invalidator       *cache.Invalidator
	logger            *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	userRepo repository.UserRepository,
	sessions *SessionManager,
	lockout *LockoutPolicy,
	passwordValidator *PasswordValidator,
	store *cache.Store,
	invalidator *cache.Invalidator,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		userRepo:          userRepo,
		sessions:          sessions,
		lockout:           lockout,
		passwordValidator: passwordValidator,
		store:             store,
		invalidator:       invalidator,
		logger:            logger,
	}
}

// Register creates a new user account and returns a session token
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, []ValidationError, error) {
	var validationErrors []ValidationError

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "email",
			Message: "Invalid email format",
		})
	}

	handle := strings.TrimSpace(req.Handle)
	if len(handle) < 3 || len(handle) > 32 {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "handle",
			Message: "Handle must be between 3 and 32 characters",
		})
	}

	for _, err := range s.passwordValidator.ValidatePassword(req.Password) {
		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field,
			Message: err.Message,
		})
	}

	if req.Password != req.ConfirmPassword {
		validationErrors = append(validationErrors, ValidationError{
			Field:   "confirm_password",
			Message: "Password and confirm_password do not match",
		})
	}

	if len(validationErrors) > 0 {
		return nil, validationErrors, nil
	}

	passwordHash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, nil, err
	}

	verificationToken := randomToken()
	user := &repository.User{
		Email:             email,
		Handle:            handle,
		PasswordHash:      passwordHash,
		IsActive:          true,
		VerificationToken: &verificationToken,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrEmailAlreadyExists):
			return nil, nil, ErrEmailExists
		case errors.Is(err, repository.ErrHandleAlreadyExists):
			return nil, nil, ErrHandleExists
		}
		return nil, nil, err
	}

	token, expiresAt, err := s.sessions.Issue(ctx, identityOf(user))
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID.String()))

	return &AuthResponse{
		User:  userResponse(user),
		Token: tokenResponse(token, expiresAt),
	}, nil, nil
}

// Authenticate verifies credentials and issues a session token. A correct
// password on a locked account still returns ErrAccountLocked; the lock is
// checked from the durable row before the password is touched.
func (s *AuthService) Authenticate(ctx context.Context, req LoginRequest, clientAddr string) (*AuthResponse, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if locked, _ := s.lockout.IsLocked(user, time.Now()); locked {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, ErrAccountLocked
	}

	if err := s.passwordValidator.VerifyPassword(req.Password, user.PasswordHash); err != nil {
		lockedUntil, recErr := s.lockout.OnFailure(ctx, user.ID)
		if recErr != nil {
			s.logger.ErrorContext(ctx, "failed to record login failure",
				slog.String("user_id", user.ID.String()),
				slog.String("error", recErr.Error()))
		}
		if lockedUntil != nil && lockedUntil.After(time.Now()) {
			metrics.LoginAttempts.WithLabelValues("locked").Inc()
			return nil, ErrAccountLocked
		}
		metrics.LoginAttempts.WithLabelValues("invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	if err := s.lockout.OnSuccess(ctx, user.ID, clientAddr); err != nil {
		return nil, err
	}

	token, expiresAt, err := s.sessions.Issue(ctx, identityOf(user))
	if err != nil {
		return nil, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()

	return &AuthResponse{
		User:  userResponse(user),
		Token: tokenResponse(token, expiresAt),
	}, nil
}

// Logout revokes the presented token. The token must still validate, so a
// second logout with the same token fails with ErrTokenRevoked.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}

	s.sessions.Revoke(ctx, token, TriggerLogout)
	if derr := s.store.Delete(ctx, cache.SessionKey(claims.UserID())); derr != nil {
		s.logger.WarnContext(ctx, "failed to clear session pointer on logout",
			slog.String("user_id", claims.UserID()),
			slog.String("error", derr.Error()))
	}
	return nil
}

// Refresh exchanges a valid token for a fresh one and revokes the old token
// for its remaining lifetime.
func (s *AuthService) Refresh(ctx context.Context, token string) (*AuthResponse, error) {
	claims, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.loadActiveUser(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	s.sessions.Revoke(ctx, token, TriggerRefresh)

	newToken, expiresAt, err := s.sessions.Issue(ctx, identityOf(user))
	if err != nil {
		return nil, err
	}

	return &AuthResponse{
		User:  userResponse(user),
		Token: tokenResponse(newToken, expiresAt),
	}, nil
}

// ValidateToken checks a presented token and returns its claims
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	return s.sessions.Validate(ctx, token)
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes the canonical session so stolen tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, accountID string, req ChangePasswordRequest, currentToken string) ([]ValidationError, error) {
	user, err := s.loadActiveUser(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if err := s.passwordValidator.VerifyPassword(req.CurrentPassword, user.PasswordHash); err != nil {
		return nil, ErrInvalidCredentials
	}

	if verrs := s.passwordValidator.ValidatePassword(req.NewPassword); len(verrs) > 0 {
		out := make([]ValidationError, 0, len(verrs))
		for _, v := range verrs {
			out = append(out, ValidationError{Field: v.Field, Message: v.Message})
		}
		return out, nil
	}

	hash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, err
	}

	s.sessions.RevokeCurrent(ctx, accountID, currentToken, TriggerPasswordChange)
	s.invalidator.InvalidateAccount(ctx, accountID)
	return nil, nil
}

// RequestPasswordReset stores a reset token on the account. It returns the
// token to the caller for delivery; unknown emails succeed silently so the
// endpoint cannot be used to probe registered addresses.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", nil
		}
		return "", err
	}
	if !user.IsActive {
		return "", nil
	}

	token := randomToken()
	expiry := time.Now().Add(1 * time.Hour)
	if err := s.userRepo.SetResetToken(ctx, user.ID, token, expiry); err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "password reset requested", slog.String("user_id", user.ID.String()))
	return token, nil
}

// ResetPassword completes a reset: validates the token and its expiry,
// stores the new hash, clears the token, and revokes the canonical session.
func (s *AuthService) ResetPassword(ctx context.Context, req ResetPasswordRequest) ([]ValidationError, error) {
	user, err := s.userRepo.GetByResetToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrResetTokenInvalid
		}
		return nil, err
	}

	if user.ResetTokenExpiry == nil || user.ResetTokenExpiry.Before(time.Now()) {
		return nil, ErrResetTokenInvalid
	}

	if verrs := s.passwordValidator.ValidatePassword(req.NewPassword); len(verrs) > 0 {
		out := make([]ValidationError, 0, len(verrs))
		for _, v := range verrs {
			out = append(out, ValidationError{Field: v.Field, Message: v.Message})
		}
		return out, nil
	}

	hash, err := s.passwordValidator.HashPassword(req.NewPassword)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return nil, err
	}
	if err := s.userRepo.ClearResetToken(ctx, user.ID); err != nil {
		return nil, err
	}

	s.sessions.RevokeCurrent(ctx, user.ID.String(), "", TriggerPasswordReset)
	s.invalidator.InvalidateAccount(ctx, user.ID.String())
	return nil, nil
}

// VerifyEmail marks the account verified using its verification token
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.userRepo.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	if err := s.userRepo.MarkEmailVerified(ctx, user.ID); err != nil {
		return err
	}

	s.invalidator.InvalidateAccount(ctx, user.ID.String())
	return nil
}

// GetProfile returns the account profile, served from the account cache
// family when warm.
func (s *AuthService) GetProfile(ctx context.Context, accountID string) (*UserResponse, error) {
	key := cache.AccountKey(accountID)

	var cached UserResponse
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return &cached, nil
	}

	user, err := s.loadActiveUser(ctx, accountID)
	if err != nil {
		return nil, err
	}

	resp := userResponse(user)
	cache.SetJSON(ctx, s.store, key, resp, accountCacheTTL)
	return &resp, nil
}

// UpdateProfile updates handle and preferences, routing the write through
// the coherency layer.
func (s *AuthService) UpdateProfile(ctx context.Context, accountID string, req UpdateProfileRequest) (*UserResponse, []ValidationError, error) {
	handle := strings.TrimSpace(req.Handle)
	if len(handle) < 3 || len(handle) > 32 {
		return nil, []ValidationError{{
			Field:   "handle",
			Message: "Handle must be between 3 and 32 characters",
		}}, nil
	}

	user, err := s.loadActiveUser(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.userRepo.UpdateProfile(ctx, user.ID, handle, req.Preferences); err != nil {
		if errors.Is(err, repository.ErrHandleAlreadyExists) {
			return nil, nil, ErrHandleExists
		}
		return nil, nil, err
	}

	s.invalidator.InvalidateAccount(ctx, accountID)

	user.Handle = handle
	if req.Preferences != nil {
		user.Preferences = req.Preferences
	}
	resp := userResponse(user)
	return &resp, nil, nil
}

// DeactivateAccount soft-deletes the account, revokes its session, and
// purges every cached payload the account owns.
func (s *AuthService) DeactivateAccount(ctx context.Context, accountID, currentToken string) error {
	user, err := s.loadActiveUser(ctx, accountID)
	if err != nil {
		return err
	}

	if err := s.userRepo.SoftDelete(ctx, user.ID); err != nil {
		return err
	}

	s.sessions.RevokeCurrent(ctx, accountID, currentToken, TriggerDeactivation)
	s.InvalidateUserCache(ctx, accountID)

	s.logger.InfoContext(ctx, "account deactivated", slog.String("user_id", accountID))
	return nil
}

// InvalidateUserCache drops every cached payload for an account, the
// profile snapshot and all derived todo reads included.
func (s *AuthService) InvalidateUserCache(ctx context.Context, accountID string) {
	s.invalidator.InvalidateAll(ctx, accountID)
}

func (s *AuthService) loadActiveUser(ctx context.Context, accountID string) (*repository.User, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrAccountInactive
	}
	return user, nil
}

func identityOf(user *repository.User) Identity {
	return Identity{
		AccountID: user.ID.String(),
		Email:     user.Email,
		Handle:    user.Handle,
		Active:    user.IsActive,
		Verified:  user.EmailVerified,
	}
}

func userResponse(user *repository.User) UserResponse {
	return UserResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		Handle:        user.Handle,
		EmailVerified: user.EmailVerified,
		Preferences:   user.Preferences,
		CreatedAt:     user.CreatedAt,
		LastLogin:     user.LastLoginAt,
	}
}

func tokenResponse(token string, expiresAt time.Time) TokenResponse {
	return TokenResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	}
}

func isValidEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func randomToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
