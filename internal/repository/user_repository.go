package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"
)

// Common errors
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailAlreadyExists  = errors.New("email already exists")
	ErrHandleAlreadyExists = errors.New("handle already exists")
)

const userColumns = `id, email, handle, password_hash, is_active, email_verified,
	verification_token, reset_token, reset_token_expiry,
	failed_attempts, locked_until, last_login_at, last_login_ip,
	preferences, created_at, updated_at`

// UserRepository defines the interface for account data access
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByHandle(ctx context.Context, handle string) (*User, error)
	GetByResetToken(ctx context.Context, token string) (*User, error)
	GetByVerificationToken(ctx context.Context, token string) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, handle string, preferences map[string]string) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string) error
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error)
	SetResetToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

// Create inserts a new account
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (email, handle, password_hash, is_active, email_verified, verification_token, preferences)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.withWriteRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, query,
			strings.ToLower(user.Email),
			user.Handle,
			user.PasswordHash,
			user.IsActive,
			user.EmailVerified,
			user.VerificationToken,
			user.Preferences,
		).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "handle") {
				return ErrHandleAlreadyExists
			}
			return ErrEmailAlreadyExists
		}
		return err
	}

	return nil
}

// GetByID retrieves an account by its ID
func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail retrieves an account by email (case-insensitive)
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

// GetByHandle retrieves an account by handle
func (r *userRepository) GetByHandle(ctx context.Context, handle string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE handle = $1`, handle)
}

// GetByResetToken retrieves an account by an unexpired password-reset token
func (r *userRepository) GetByResetToken(ctx context.Context, token string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE reset_token = $1 AND reset_token_expiry > $2`
	return r.getOne(ctx, query, token, time.Now().UTC())
}

// GetByVerificationToken retrieves an account by its email verification token
func (r *userRepository) GetByVerificationToken(ctx context.Context, token string) (*User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token = $1`, token)
}

// UpdateProfile updates the mutable profile fields
func (r *userRepository) UpdateProfile(ctx context.Context, id uuid.UUID, handle string, preferences map[string]string) error {
	query := `
		UPDATE users
		SET handle = $1, preferences = $2, updated_at = $3
		WHERE id = $4
	`

	return r.execExpectingRow(ctx, query, handle, preferences, time.Now().UTC(), id)
}

// UpdatePasswordHash replaces the stored password hash
func (r *userRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1, updated_at = $2
		WHERE id = $3
	`

	return r.execExpectingRow(ctx, query, passwordHash, time.Now().UTC(), id)
}

// RecordLoginSuccess resets the failed-attempt counter, clears any lockout,
// and stamps the login time and address. This is a single durable write so
// a crash can never leave a zeroed counter with a live lock.
func (r *userRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string) error {
	query := `
		UPDATE users
		SET failed_attempts = 0,
		    locked_until = NULL,
		    last_login_at = $1,
		    last_login_ip = $2,
		    updated_at = $1
		WHERE id = $3
	`

	return r.execExpectingRow(ctx, query, time.Now().UTC(), ip, id)
}

// RecordLoginFailure increments the failed-attempt counter and engages the
// lockout in the same statement once the counter reaches the threshold.
// Returns the post-increment counter and the lock expiry, if any. Concurrent
// failures may both observe the same pre-increment value; the occasional
// one-attempt slack is tolerated rather than serializing on a row lock.
func (r *userRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= $1 THEN $2 ELSE locked_until END,
		    updated_at = $3
		WHERE id = $4
		RETURNING failed_attempts, locked_until
	`

	var (
		attempts int
		locked   *time.Time
	)
	err := r.withWriteRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, query, threshold, lockUntil, time.Now().UTC(), id).Scan(&attempts, &locked)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, ErrUserNotFound
		}
		return 0, nil, err
	}

	return attempts, locked, nil
}

// SetResetToken stores a password-reset token with its expiry
func (r *userRepository) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error {
	query := `
		UPDATE users
		SET reset_token = $1, reset_token_expiry = $2, updated_at = $3
		WHERE id = $4
	`

	return r.execExpectingRow(ctx, query, token, expiry, time.Now().UTC(), id)
}

// ClearResetToken removes any outstanding password-reset token
func (r *userRepository) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET reset_token = NULL, reset_token_expiry = NULL, updated_at = $1
		WHERE id = $2
	`

	return r.execExpectingRow(ctx, query, time.Now().UTC(), id)
}

// MarkEmailVerified flags the account's email as verified and discards the token
func (r *userRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET email_verified = TRUE, verification_token = NULL, updated_at = $1
		WHERE id = $2
	`

	return r.execExpectingRow(ctx, query, time.Now().UTC(), id)
}

// SoftDelete anonymizes and deactivates an account instead of purging the
// row, so foreign keys from the todo collection stay intact.
func (r *userRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE users
		SET email = 'deleted-' || id::text || '@invalid.local',
		    handle = 'deleted-' || id::text,
		    password_hash = '',
		    is_active = FALSE,
		    verification_token = NULL,
		    reset_token = NULL,
		    reset_token_expiry = NULL,
		    preferences = '{}'::jsonb,
		    updated_at = $1
		WHERE id = $2 AND is_active = TRUE
	`

	return r.execExpectingRow(ctx, query, time.Now().UTC(), id)
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...any) (*User, error) {
	user := &User{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Handle,
		&user.PasswordHash,
		&user.IsActive,
		&user.EmailVerified,
		&user.VerificationToken,
		&user.ResetToken,
		&user.ResetTokenExpiry,
		&user.FailedAttempts,
		&user.LockedUntil,
		&user.LastLoginAt,
		&user.LastLoginIP,
		&user.Preferences,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return user, nil
}

func (r *userRepository) execExpectingRow(ctx context.Context, query string, args ...any) error {
	return r.withWriteRetry(ctx, func() error {
		result, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}

// withWriteRetry retries durable writes on deadlock/serialization/connection
// failures with bounded exponential backoff. Reads and cache operations are
// never retried.
func (r *userRepository) withWriteRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether a durable-store error is in the
// deadlock/connection-reset class worth one more attempt.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
