package auth

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/repository"
)

type authTestEnv struct {
	service *AuthService
	repo    *mockUserRepository
	mr      *miniredis.Miniredis
}

func newAuthTestEnv(t *testing.T) *authTestEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := slog.Default()
	store := cache.NewStore(client, time.Second, log)
	invalidator := cache.NewInvalidator(store, log)
	repo := newMockUserRepository()

	sessions := NewSessionManager(newTestTokenService(), store, log)
	lockout := NewLockoutPolicy(repo, invalidator, 5, 30*time.Minute, log)
	pv := NewPasswordValidator()

	return &authTestEnv{
		service: NewAuthService(repo, sessions, lockout, pv, store, invalidator, log),
		repo:    repo,
		mr:      mr,
	}
}

const testPassword = "Sup3rSecret!"

func (e *authTestEnv) seedUser(t *testing.T, email, handle string) *repository.User {
	t.Helper()

	hash, err := NewPasswordValidator().HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	user := &repository.User{
		Email:        email,
		Handle:       handle,
		PasswordHash: hash,
		IsActive:     true,
	}
	e.repo.addUser(user)
	return user
}

func TestRegisterSuccess(t *testing.T) {
	env := newAuthTestEnv(t)

	resp, verrs, err := env.service.Register(context.Background(), RegisterRequest{
		Email:           "New.User@Example.COM",
		Handle:          "newuser",
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(verrs) > 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}

	if resp.User.Email != "new.user@example.com" {
		t.Errorf("email should be normalized, got %q", resp.User.Email)
	}
	if resp.Token.AccessToken == "" || resp.Token.TokenType != "Bearer" {
		t.Error("expected a bearer token")
	}

	stored, err := env.repo.GetByEmail(context.Background(), "new.user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if stored.PasswordHash == testPassword {
		t.Error("password must be stored hashed")
	}
	if stored.VerificationToken == nil {
		t.Error("registration should set a verification token")
	}
}

func TestRegisterValidationFailures(t *testing.T) {
	env := newAuthTestEnv(t)

	_, verrs, err := env.service.Register(context.Background(), RegisterRequest{
		Email:           "not-an-email",
		Handle:          "ab",
		Password:        "weak",
		ConfirmPassword: "different",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(verrs) == 0 {
		t.Fatal("expected validation errors")
	}

	fields := make(map[string]bool)
	for _, v := range verrs {
		fields[v.Field] = true
	}
	for _, want := range []string{"email", "handle", "password", "confirm_password"} {
		if !fields[want] {
			t.Errorf("missing validation error for %q", want)
		}
	}
}

func TestRegisterDuplicateEmailAndHandle(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "taken@example.com", "taken")

	_, _, err := env.service.Register(context.Background(), RegisterRequest{
		Email:           "taken@example.com",
		Handle:          "fresh",
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if !errors.Is(err, ErrEmailExists) {
		t.Errorf("expected ErrEmailExists, got %v", err)
	}

	_, _, err = env.service.Register(context.Background(), RegisterRequest{
		Email:           "fresh@example.com",
		Handle:          "taken",
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if !errors.Is(err, ErrHandleExists) {
		t.Errorf("expected ErrHandleExists, got %v", err)
	}
}

func TestAuthenticateSuccess(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u@example.com", "u")

	resp, err := env.service.Authenticate(context.Background(), LoginRequest{
		Email:    "u@example.com",
		Password: testPassword,
	}, "198.51.100.1")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Token.AccessToken == "" {
		t.Error("expected a token")
	}

	claims, err := env.service.ValidateToken(context.Background(), resp.Token.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Email != "u@example.com" {
		t.Errorf("claims carry wrong email %q", claims.Email)
	}
}

func TestAuthenticateUnknownEmail(t *testing.T) {
	env := newAuthTestEnv(t)

	_, err := env.service.Authenticate(context.Background(), LoginRequest{
		Email:    "ghost@example.com",
		Password: testPassword,
	}, "198.51.100.1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFailuresThenSuccessResetsCounter(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.seedUser(t, "u1@example.com", "u1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := env.service.Authenticate(ctx, LoginRequest{
			Email:    "u1@example.com",
			Password: "Wrong" + testPassword,
		}, "198.51.100.1")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	if _, err := env.service.Authenticate(ctx, LoginRequest{
		Email:    "u1@example.com",
		Password: testPassword,
	}, "198.51.100.1"); err != nil {
		t.Fatalf("correct password on attempt 5 must succeed: %v", err)
	}

	stored, _ := env.repo.GetByID(ctx, user.ID)
	if stored.FailedAttempts != 0 {
		t.Errorf("counter should reset after success, got %d", stored.FailedAttempts)
	}
	if stored.LockedUntil != nil {
		t.Error("no lock should be in effect")
	}
}

func TestFifthFailureLocksEvenAgainstCorrectPassword(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u2@example.com", "u2")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		env.service.Authenticate(ctx, LoginRequest{
			Email:    "u2@example.com",
			Password: "Wrong" + testPassword,
		}, "198.51.100.1")
	}

	_, err := env.service.Authenticate(ctx, LoginRequest{
		Email:    "u2@example.com",
		Password: "Wrong" + testPassword,
	}, "198.51.100.1")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("fifth failure should report the lock, got %v", err)
	}

	_, err = env.service.Authenticate(ctx, LoginRequest{
		Email:    "u2@example.com",
		Password: testPassword,
	}, "198.51.100.1")
	if !errors.Is(err, ErrAccountLocked) {
		t.Errorf("correct password during the lock window must still be rejected, got %v", err)
	}
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	env := newAuthTestEnv(t)

	hash, err := NewPasswordValidator().HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	env.repo.addUser(&repository.User{
		Email:        "gone@example.com",
		Handle:       "gone",
		PasswordHash: hash,
		IsActive:     false,
	})

	_, err = env.service.Authenticate(context.Background(), LoginRequest{
		Email:    "gone@example.com",
		Password: testPassword,
	}, "198.51.100.1")
	if !errors.Is(err, ErrAccountInactive) {
		t.Errorf("expected ErrAccountInactive, got %v", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	resp, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1")
	if err != nil {
		t.Fatal(err)
	}
	token := resp.Token.AccessToken

	if err := env.service.Logout(ctx, token); err != nil {
		t.Fatal(err)
	}

	if _, err := env.service.ValidateToken(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("token should be revoked after logout, got %v", err)
	}

	// Second logout with the same token is rejected as already revoked.
	if err := env.service.Logout(ctx, token); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("double logout should fail with ErrTokenRevoked, got %v", err)
	}
}

func TestRefreshRevokesOldToken(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	first, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1")
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := env.service.Refresh(ctx, first.Token.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Token.AccessToken == first.Token.AccessToken {
		t.Fatal("refresh must mint a new token")
	}

	if _, err := env.service.ValidateToken(ctx, first.Token.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("old token should be revoked, got %v", err)
	}
	if _, err := env.service.ValidateToken(ctx, refreshed.Token.AccessToken); err != nil {
		t.Errorf("new token should validate: %v", err)
	}
}

func TestChangePasswordRevokesSession(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	resp, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1")
	if err != nil {
		t.Fatal(err)
	}

	const newPassword = "An0ther$ecret"
	verrs, err := env.service.ChangePassword(ctx, user.ID.String(), ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     newPassword,
	}, resp.Token.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if len(verrs) > 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}

	if _, err := env.service.ValidateToken(ctx, resp.Token.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("session should be revoked after password change, got %v", err)
	}

	if _, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: newPassword}, "198.51.100.1"); err != nil {
		t.Errorf("new password should authenticate: %v", err)
	}
	if _, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password should be rejected, got %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.seedUser(t, "u@example.com", "u")

	_, err := env.service.ChangePassword(context.Background(), user.ID.String(), ChangePasswordRequest{
		CurrentPassword: "nope",
		NewPassword:     "An0ther$ecret",
	}, "")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	resetToken, err := env.service.RequestPasswordReset(ctx, "u@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if resetToken == "" {
		t.Fatal("expected a reset token for a known account")
	}

	const newPassword = "Freshly$et1"
	verrs, err := env.service.ResetPassword(ctx, ResetPasswordRequest{
		Token:       resetToken,
		NewPassword: newPassword,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(verrs) > 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}

	if _, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: newPassword}, "198.51.100.1"); err != nil {
		t.Errorf("reset password should authenticate: %v", err)
	}

	// The token is single use.
	if _, err := env.service.ResetPassword(ctx, ResetPasswordRequest{Token: resetToken, NewPassword: "Y3tAnother$1"}); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("spent token should be rejected, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newAuthTestEnv(t)

	token, err := env.service.RequestPasswordReset(context.Background(), "ghost@example.com")
	if err != nil {
		t.Fatalf("unknown email must not surface an error: %v", err)
	}
	if token != "" {
		t.Error("no token should be issued for an unknown email")
	}
}

func TestVerifyEmail(t *testing.T) {
	env := newAuthTestEnv(t)
	ctx := context.Background()

	resp, _, err := env.service.Register(ctx, RegisterRequest{
		Email:           "v@example.com",
		Handle:          "verifyme",
		Password:        testPassword,
		ConfirmPassword: testPassword,
	})
	if err != nil {
		t.Fatal(err)
	}

	stored, _ := env.repo.GetByEmail(ctx, "v@example.com")
	if err := env.service.VerifyEmail(ctx, *stored.VerificationToken); err != nil {
		t.Fatal(err)
	}

	profile, err := env.service.GetProfile(ctx, resp.User.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !profile.EmailVerified {
		t.Error("profile should report the verified flag")
	}
}

func TestGetProfileServesFromCache(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	first, err := env.service.GetProfile(ctx, user.ID.String())
	if err != nil {
		t.Fatal(err)
	}

	if !env.mr.Exists(cache.AccountKey(user.ID.String())) {
		t.Fatal("profile read should populate the cache")
	}

	// Change the row underneath the cache. A second read within the TTL
	// still serves the cached snapshot.
	env.repo.UpdateProfile(ctx, user.ID, "renamed", nil)

	second, err := env.service.GetProfile(ctx, user.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if second.Handle != first.Handle {
		t.Errorf("expected cached handle %q, got %q", first.Handle, second.Handle)
	}
}

func TestUpdateProfileInvalidatesCache(t *testing.T) {
	env := newAuthTestEnv(t)
	user := env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	if _, err := env.service.GetProfile(ctx, user.ID.String()); err != nil {
		t.Fatal(err)
	}

	updated, verrs, err := env.service.UpdateProfile(ctx, user.ID.String(), UpdateProfileRequest{
		Handle:      "renamed",
		Preferences: map[string]string{"theme": "dark"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(verrs) > 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}
	if updated.Handle != "renamed" {
		t.Errorf("got handle %q", updated.Handle)
	}

	fresh, err := env.service.GetProfile(ctx, user.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Handle != "renamed" {
		t.Errorf("stale profile served after update: %q", fresh.Handle)
	}
}

func TestDeactivateAccount(t *testing.T) {
	env := newAuthTestEnv(t)
	env.seedUser(t, "u@example.com", "u")
	ctx := context.Background()

	resp, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1")
	if err != nil {
		t.Fatal(err)
	}

	if err := env.service.DeactivateAccount(ctx, resp.User.ID, resp.Token.AccessToken); err != nil {
		t.Fatal(err)
	}

	if _, err := env.service.ValidateToken(ctx, resp.Token.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("session should be revoked on deactivation, got %v", err)
	}

	// Anonymization removes the email, so a login attempt reads as an
	// unknown account.
	if _, err := env.service.Authenticate(ctx, LoginRequest{Email: "u@example.com", Password: testPassword}, "198.51.100.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("deactivated account must not log in, got %v", err)
	}
}
