package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Todo repository errors
var (
	ErrTodoNotFound = errors.New("todo not found")
)

// TodoRepositoryInterface defines the interface for todo data access.
// Every operation is scoped to an owning account; cross-tenant reads are
// impossible at this layer.
type TodoRepositoryInterface interface {
	Create(ctx context.Context, todo *Todo) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Todo, error)
	Update(ctx context.Context, todo *Todo) error
	Delete(ctx context.Context, userID, id uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, params ListTodoParams) ([]Todo, int, error)
	ListOverdue(ctx context.Context, userID uuid.UUID) ([]Todo, error)
	ListUpcoming(ctx context.Context, userID uuid.UUID, within time.Duration) ([]Todo, error)
	GetCategories(ctx context.Context, userID uuid.UUID) ([]string, error)
	GetTags(ctx context.Context, userID uuid.UUID) ([]string, error)
	GetStats(ctx context.Context, userID uuid.UUID) (*TodoStats, error)
}

// TodoRepo implements TodoRepositoryInterface using PostgreSQL
type TodoRepo struct {
	db *sqlx.DB
}

// NewTodoRepo creates a new TodoRepo instance
func NewTodoRepo(db *sqlx.DB) *TodoRepo {
	return &TodoRepo{db: db}
}

// Create inserts a new todo item
func (r *TodoRepo) Create(ctx context.Context, todo *Todo) error {
	query := `
		INSERT INTO todos (user_id, title, notes, category, tags, status, priority, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	return r.db.QueryRowContext(ctx, query,
		todo.UserID,
		todo.Title,
		todo.Notes,
		todo.Category,
		pq.Array(todo.Tags),
		todo.Status,
		todo.Priority,
		todo.DueAt,
	).Scan(&todo.ID, &todo.CreatedAt, &todo.UpdatedAt)
}

// GetByID retrieves a todo owned by the given account
func (r *TodoRepo) GetByID(ctx context.Context, userID, id uuid.UUID) (*Todo, error) {
	query := `
		SELECT id, user_id, title, notes, category, tags, status, priority,
		       due_at, completed_at, created_at, updated_at
		FROM todos
		WHERE id = $1 AND user_id = $2
	`

	todo := &Todo{}
	err := r.db.QueryRowContext(ctx, query, id, userID).Scan(
		&todo.ID,
		&todo.UserID,
		&todo.Title,
		&todo.Notes,
		&todo.Category,
		pq.Array(&todo.Tags),
		&todo.Status,
		&todo.Priority,
		&todo.DueAt,
		&todo.CompletedAt,
		&todo.CreatedAt,
		&todo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTodoNotFound
		}
		return nil, err
	}

	return todo, nil
}

// Update rewrites the mutable fields of a todo
func (r *TodoRepo) Update(ctx context.Context, todo *Todo) error {
	query := `
		UPDATE todos
		SET title = $1, notes = $2, category = $3, tags = $4, status = $5,
		    priority = $6, due_at = $7, completed_at = $8, updated_at = $9
		WHERE id = $10 AND user_id = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		todo.Title,
		todo.Notes,
		todo.Category,
		pq.Array(todo.Tags),
		todo.Status,
		todo.Priority,
		todo.DueAt,
		todo.CompletedAt,
		time.Now().UTC(),
		todo.ID,
		todo.UserID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTodoNotFound
	}

	return nil
}

// Delete removes a todo owned by the given account
func (r *TodoRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM todos WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTodoNotFound
	}

	return nil
}

// List retrieves todos for an account with pagination, filtering, search, and sorting
func (r *TodoRepo) List(ctx context.Context, userID uuid.UUID, params ListTodoParams) ([]Todo, int, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = 20
	}
	if params.Limit > 100 {
		params.Limit = 100
	}

	baseQuery := ` FROM todos WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if params.Status != "" {
		baseQuery += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, params.Status)
		argIdx++
	}

	if params.Category != "" {
		baseQuery += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, params.Category)
		argIdx++
	}

	if params.Tag != "" {
		baseQuery += fmt.Sprintf(" AND $%d = ANY(tags)", argIdx)
		args = append(args, params.Tag)
		argIdx++
	}

	if params.Search != "" {
		baseQuery += fmt.Sprintf(" AND (LOWER(title) LIKE LOWER($%d) OR LOWER(notes) LIKE LOWER($%d))", argIdx, argIdx)
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}

	countQuery := "SELECT COUNT(*)" + baseQuery
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count todos: %w", err)
	}

	selectQuery := `SELECT id, user_id, title, notes, category, tags, status, priority,
		due_at, completed_at, created_at, updated_at` + baseQuery

	sortField := "created_at"
	switch params.Sort {
	case "due_at":
		sortField = "due_at"
	case "priority":
		sortField = "priority"
	case "title":
		sortField = "title"
	}
	sortOrder := "DESC"
	if params.Order == "asc" {
		sortOrder = "ASC"
	}
	selectQuery += fmt.Sprintf(" ORDER BY %s %s", sortField, sortOrder)

	offset := (params.Page - 1) * params.Limit
	selectQuery += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, offset)

	todos, err := r.queryTodos(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}

	return todos, totalCount, nil
}

// ListOverdue retrieves pending todos whose due time has passed
func (r *TodoRepo) ListOverdue(ctx context.Context, userID uuid.UUID) ([]Todo, error) {
	query := `
		SELECT id, user_id, title, notes, category, tags, status, priority,
		       due_at, completed_at, created_at, updated_at
		FROM todos
		WHERE user_id = $1 AND status = $2 AND due_at < $3
		ORDER BY due_at ASC
	`

	return r.queryTodos(ctx, query, userID, StatusPending, time.Now().UTC())
}

// ListUpcoming retrieves pending todos due within the given window
func (r *TodoRepo) ListUpcoming(ctx context.Context, userID uuid.UUID, within time.Duration) ([]Todo, error) {
	now := time.Now().UTC()
	query := `
		SELECT id, user_id, title, notes, category, tags, status, priority,
		       due_at, completed_at, created_at, updated_at
		FROM todos
		WHERE user_id = $1 AND status = $2 AND due_at >= $3 AND due_at <= $4
		ORDER BY due_at ASC
	`

	return r.queryTodos(ctx, query, userID, StatusPending, now, now.Add(within))
}

// GetCategories retrieves the distinct non-empty categories for an account
func (r *TodoRepo) GetCategories(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT DISTINCT category FROM todos
		WHERE user_id = $1 AND category IS NOT NULL AND category <> ''
		ORDER BY category
	`

	var categories []string
	if err := r.db.SelectContext(ctx, &categories, query, userID); err != nil {
		return nil, err
	}
	return categories, nil
}

// GetTags retrieves the distinct tags across an account's todos
func (r *TodoRepo) GetTags(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT DISTINCT UNNEST(tags) AS tag FROM todos
		WHERE user_id = $1
		ORDER BY tag
	`

	var tags []string
	if err := r.db.SelectContext(ctx, &tags, query, userID); err != nil {
		return nil, err
	}
	return tags, nil
}

// GetStats computes aggregate statistics for an account's todos
func (r *TodoRepo) GetStats(ctx context.Context, userID uuid.UUID) (*TodoStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = $2) AS pending,
			COUNT(*) FILTER (WHERE status = $3) AS completed,
			COUNT(*) FILTER (WHERE status = $2 AND due_at < $4) AS overdue,
			COUNT(*) FILTER (WHERE status = $2 AND due_at >= $4 AND due_at < $5) AS due_today,
			COUNT(*) FILTER (WHERE status = $2 AND due_at >= $4 AND due_at < $6) AS due_this_week
		FROM todos
		WHERE user_id = $1
	`

	now := time.Now().UTC()
	stats := &TodoStats{}
	err := r.db.GetContext(ctx, stats, query,
		userID, StatusPending, StatusCompleted,
		now, now.Add(24*time.Hour), now.Add(7*24*time.Hour),
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func (r *TodoRepo) queryTodos(ctx context.Context, query string, args ...interface{}) ([]Todo, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query todos: %w", err)
	}
	defer rows.Close()

	var todos []Todo
	for rows.Next() {
		var todo Todo
		err := rows.Scan(
			&todo.ID,
			&todo.UserID,
			&todo.Title,
			&todo.Notes,
			&todo.Category,
			pq.Array(&todo.Tags),
			&todo.Status,
			&todo.Priority,
			&todo.DueAt,
			&todo.CompletedAt,
			&todo.CreatedAt,
			&todo.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, todo)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return todos, nil
}
