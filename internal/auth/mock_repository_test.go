package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yumendev/taskvault/internal/repository"
)

// mockUserRepository is an in-memory stand-in for the PostgreSQL-backed
// repository, with the same counter and lock semantics.
type mockUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*repository.User
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[uuid.UUID]*repository.User)}
}

func (m *mockUserRepository) addUser(user *repository.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	m.users[user.ID] = &cp
}

func (m *mockUserRepository) Create(ctx context.Context, user *repository.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrEmailAlreadyExists
		}
		if u.Handle == user.Handle {
			return repository.ErrHandleAlreadyExists
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) GetByHandle(ctx context.Context, handle string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Handle == handle {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) GetByResetToken(ctx context.Context, token string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetToken != nil && *u.ResetToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) GetByVerificationToken(ctx context.Context, token string) (*repository.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.VerificationToken != nil && *u.VerificationToken == token {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, handle string, preferences map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	for _, other := range m.users {
		if other.ID != id && other.Handle == handle {
			return repository.ErrHandleAlreadyExists
		}
	}
	u.Handle = handle
	u.Preferences = preferences
	u.UpdatedAt = time.Now()
	return nil
}

func (m *mockUserRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	return nil
}

func (m *mockUserRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	now := time.Now()
	u.FailedAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
	u.LastLoginIP = &ip
	return nil
}

func (m *mockUserRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, nil, repository.ErrUserNotFound
	}
	u.FailedAttempts++
	if u.FailedAttempts >= threshold {
		until := lockUntil
		u.LockedUntil = &until
	}
	return u.FailedAttempts, u.LockedUntil, nil
}

func (m *mockUserRepository) SetResetToken(ctx context.Context, id uuid.UUID, token string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.ResetToken = &token
	u.ResetTokenExpiry = &expiry
	return nil
}

func (m *mockUserRepository) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
	return nil
}

func (m *mockUserRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.EmailVerified = true
	u.VerificationToken = nil
	return nil
}

func (m *mockUserRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || !u.IsActive {
		return repository.ErrUserNotFound
	}
	u.Email = "deleted-" + id.String() + "@invalid.local"
	u.Handle = "deleted-" + id.String()
	u.PasswordHash = ""
	u.IsActive = false
	u.VerificationToken = nil
	u.ResetToken = nil
	u.ResetTokenExpiry = nil
	u.Preferences = nil
	u.UpdatedAt = time.Now()
	return nil
}
