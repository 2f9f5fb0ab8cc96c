package repository

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// User represents an account in the database. The lockout counter and lock
// expiry live here rather than in the cache so a brute-force window is never
// judged against stale data.
type User struct {
	ID                uuid.UUID         `db:"id"`
	Email             string            `db:"email"`
	Handle            string            `db:"handle"`
	PasswordHash      string            `db:"password_hash"`
	IsActive          bool              `db:"is_active"`
	EmailVerified     bool              `db:"email_verified"`
	VerificationToken *string           `db:"verification_token"`
	ResetToken        *string           `db:"reset_token"`
	ResetTokenExpiry  *time.Time        `db:"reset_token_expiry"`
	FailedAttempts    int               `db:"failed_attempts"`
	LockedUntil       *time.Time        `db:"locked_until"`
	LastLoginAt       *time.Time        `db:"last_login_at"`
	LastLoginIP       *string           `db:"last_login_ip"`
	Preferences       map[string]string `db:"preferences"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Todo represents a single todo item owned by an account
type Todo struct {
	ID          uuid.UUID  `db:"id"`
	UserID      uuid.UUID  `db:"user_id"`
	Title       string     `db:"title"`
	Notes       *string    `db:"notes"`
	Category    *string    `db:"category"`
	Tags        []string   `db:"tags"`
	Status      string     `db:"status"`
	Priority    int        `db:"priority"`
	DueAt       *time.Time `db:"due_at"`
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Todo status values
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// ListTodoParams holds parameters for listing todos
type ListTodoParams struct {
	Page     int
	Limit    int
	Status   string
	Category string
	Tag      string
	Search   string
	Sort     string
	Order    string
}

// QueryShape returns a stable string identifying the listing query, used as
// the cache key suffix for one page of results.
func (p ListTodoParams) QueryShape() string {
	return "p" + strconv.Itoa(p.Page) +
		":l" + strconv.Itoa(p.Limit) +
		":s" + p.Status +
		":c" + p.Category +
		":t" + p.Tag +
		":q" + p.Search +
		":o" + p.Sort + "." + p.Order
}

// TodoStats represents aggregate statistics for an account's todos
type TodoStats struct {
	Total       int `db:"total" json:"total"`
	Pending     int `db:"pending" json:"pending"`
	Completed   int `db:"completed" json:"completed"`
	Overdue     int `db:"overdue" json:"overdue"`
	DueToday    int `db:"due_today" json:"due_today"`
	DueThisWeek int `db:"due_this_week" json:"due_this_week"`
}
