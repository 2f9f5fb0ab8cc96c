package todo

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/repository"
	"github.com/yumendev/taskvault/internal/sanitizer"
)

// Todo service errors
var (
	ErrTodoNotFound = errors.New("todo not found")
	ErrInvalidID    = errors.New("invalid todo id")
)

// Cache TTLs per payload family. Writes invalidate synchronously, so these
// bound staleness only for invalidations that were swallowed on failure.
const (
	listTTL     = 5 * time.Minute
	setTTL      = 15 * time.Minute
	statsTTL    = 5 * time.Minute
	overdueTTL  = time.Minute
	upcomingTTL = 5 * time.Minute
)

// CreateTodoRequest represents the todo creation payload
type CreateTodoRequest struct {
	Title    string     `json:"title" validate:"required,max=200"`
	Notes    string     `json:"notes" validate:"max=10000"`
	Category string     `json:"category" validate:"max=60"`
	Tags     []string   `json:"tags"`
	Priority int        `json:"priority" validate:"min=0,max=3"`
	DueAt    *time.Time `json:"due_at"`
}

// UpdateTodoRequest represents the todo update payload
type UpdateTodoRequest struct {
	Title    string     `json:"title" validate:"required,max=200"`
	Notes    string     `json:"notes" validate:"max=10000"`
	Category string     `json:"category" validate:"max=60"`
	Tags     []string   `json:"tags"`
	Priority int        `json:"priority" validate:"min=0,max=3"`
	Status   string     `json:"status" validate:"omitempty,oneof=pending completed"`
	DueAt    *time.Time `json:"due_at"`
}

// TodoResponse represents a todo in API responses
type TodoResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Notes       string     `json:"notes,omitempty"`
	Category    string     `json:"category,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Status      string     `json:"status"`
	Priority    int        `json:"priority"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TodoListResponse represents one page of todos
type TodoListResponse struct {
	Todos []TodoResponse `json:"todos"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// TodoService handles todo business logic. Every read goes through the
// cache and every write is routed through the invalidator after the
// database commit.
type TodoService struct {
	repo        repository.TodoRepositoryInterface
	store       *cache.Store
	invalidator *cache.Invalidator
	sanitize    sanitizer.InputSanitizer
	logger      *slog.Logger
}

// NewTodoService creates a new TodoService instance
func NewTodoService(
	repo repository.TodoRepositoryInterface,
	store *cache.Store,
	invalidator *cache.Invalidator,
	sanitize sanitizer.InputSanitizer,
	logger *slog.Logger,
) *TodoService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TodoService{
		repo:        repo,
		store:       store,
		invalidator: invalidator,
		sanitize:    sanitize,
		logger:      logger,
	}
}

// Create stores a new todo and invalidates the account's todo caches
func (s *TodoService) Create(ctx context.Context, accountID string, req CreateTodoRequest) (*TodoResponse, []ValidationError, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, nil, ErrInvalidID
	}

	s.cleanCreate(&req)

	verrs := validateRequest(req)
	verrs = append(verrs, validateTags(req.Tags)...)
	if len(verrs) > 0 {
		return nil, verrs, nil
	}

	todo := &repository.Todo{
		UserID:   userID,
		Title:    req.Title,
		Notes:    optional(req.Notes),
		Category: optional(req.Category),
		Tags:     req.Tags,
		Status:   repository.StatusPending,
		Priority: req.Priority,
		DueAt:    req.DueAt,
	}

	if err := s.repo.Create(ctx, todo); err != nil {
		return nil, nil, err
	}

	s.invalidator.InvalidateTodoData(ctx, accountID)

	resp := toResponse(todo)
	return &resp, nil, nil
}

// Get returns a single todo owned by the account
func (s *TodoService) Get(ctx context.Context, accountID, todoID string) (*TodoResponse, error) {
	userID, id, err := parseIDs(accountID, todoID)
	if err != nil {
		return nil, err
	}

	todo, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrTodoNotFound) {
			return nil, ErrTodoNotFound
		}
		return nil, err
	}

	resp := toResponse(todo)
	return &resp, nil
}

// List returns one page of todos, served from cache when the same query
// shape was listed recently.
func (s *TodoService) List(ctx context.Context, accountID string, params repository.ListTodoParams) (*TodoListResponse, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	normalizeParams(&params)
	key := cache.TodoListKey(accountID, params.QueryShape())

	var cached TodoListResponse
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return &cached, nil
	}

	todos, total, err := s.repo.List(ctx, userID, params)
	if err != nil {
		return nil, err
	}

	resp := &TodoListResponse{
		Todos: toResponses(todos),
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}

	cache.SetJSON(ctx, s.store, key, resp, listTTL)
	return resp, nil
}

// Update replaces a todo's mutable fields and invalidates the account's
// todo caches. Transitioning to completed stamps the completion time;
// transitioning back clears it.
func (s *TodoService) Update(ctx context.Context, accountID, todoID string, req UpdateTodoRequest) (*TodoResponse, []ValidationError, error) {
	userID, id, err := parseIDs(accountID, todoID)
	if err != nil {
		return nil, nil, err
	}

	s.cleanUpdate(&req)

	verrs := validateRequest(req)
	verrs = append(verrs, validateTags(req.Tags)...)
	if len(verrs) > 0 {
		return nil, verrs, nil
	}

	todo, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrTodoNotFound) {
			return nil, nil, ErrTodoNotFound
		}
		return nil, nil, err
	}

	todo.Title = req.Title
	todo.Notes = optional(req.Notes)
	todo.Category = optional(req.Category)
	todo.Tags = req.Tags
	todo.Priority = req.Priority
	todo.DueAt = req.DueAt

	if req.Status != "" && req.Status != todo.Status {
		todo.Status = req.Status
		if req.Status == repository.StatusCompleted {
			now := time.Now()
			todo.CompletedAt = &now
		} else {
			todo.CompletedAt = nil
		}
	}

	if err := s.repo.Update(ctx, todo); err != nil {
		if errors.Is(err, repository.ErrTodoNotFound) {
			return nil, nil, ErrTodoNotFound
		}
		return nil, nil, err
	}

	s.invalidator.InvalidateTodoData(ctx, accountID)

	resp := toResponse(todo)
	return &resp, nil, nil
}

// Complete marks a todo completed
func (s *TodoService) Complete(ctx context.Context, accountID, todoID string) (*TodoResponse, error) {
	userID, id, err := parseIDs(accountID, todoID)
	if err != nil {
		return nil, err
	}

	todo, err := s.repo.GetByID(ctx, userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrTodoNotFound) {
			return nil, ErrTodoNotFound
		}
		return nil, err
	}

	if todo.Status != repository.StatusCompleted {
		now := time.Now()
		todo.Status = repository.StatusCompleted
		todo.CompletedAt = &now
		if err := s.repo.Update(ctx, todo); err != nil {
			return nil, err
		}
		s.invalidator.InvalidateTodoData(ctx, accountID)
	}

	resp := toResponse(todo)
	return &resp, nil
}

// Delete removes a todo and invalidates the account's todo caches
func (s *TodoService) Delete(ctx context.Context, accountID, todoID string) error {
	userID, id, err := parseIDs(accountID, todoID)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, userID, id); err != nil {
		if errors.Is(err, repository.ErrTodoNotFound) {
			return ErrTodoNotFound
		}
		return err
	}

	s.invalidator.InvalidateTodoData(ctx, accountID)
	return nil
}

// ListOverdue returns pending todos whose due time has passed
func (s *TodoService) ListOverdue(ctx context.Context, accountID string) ([]TodoResponse, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	key := cache.OverdueKey(accountID)

	var cached []TodoResponse
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return cached, nil
	}

	todos, err := s.repo.ListOverdue(ctx, userID)
	if err != nil {
		return nil, err
	}

	resp := toResponses(todos)
	cache.SetJSON(ctx, s.store, key, resp, overdueTTL)
	return resp, nil
}

// ListUpcoming returns pending todos due within the window
func (s *TodoService) ListUpcoming(ctx context.Context, accountID string, within time.Duration) ([]TodoResponse, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	if within <= 0 || within > 30*24*time.Hour {
		within = 7 * 24 * time.Hour
	}

	key := cache.UpcomingKey(accountID, within.String())

	var cached []TodoResponse
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return cached, nil
	}

	todos, err := s.repo.ListUpcoming(ctx, userID, within)
	if err != nil {
		return nil, err
	}

	resp := toResponses(todos)
	cache.SetJSON(ctx, s.store, key, resp, upcomingTTL)
	return resp, nil
}

// Categories returns the distinct category set for the account
func (s *TodoService) Categories(ctx context.Context, accountID string) ([]string, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	key := cache.CategoriesKey(accountID)

	var cached []string
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return cached, nil
	}

	categories, err := s.repo.GetCategories(ctx, userID)
	if err != nil {
		return nil, err
	}

	cache.SetJSON(ctx, s.store, key, categories, setTTL)
	return categories, nil
}

// Tags returns the distinct tag set for the account
func (s *TodoService) Tags(ctx context.Context, accountID string) ([]string, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	key := cache.TagsKey(accountID)

	var cached []string
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return cached, nil
	}

	tags, err := s.repo.GetTags(ctx, userID)
	if err != nil {
		return nil, err
	}

	cache.SetJSON(ctx, s.store, key, tags, setTTL)
	return tags, nil
}

// Stats returns aggregate statistics for the account's todos
func (s *TodoService) Stats(ctx context.Context, accountID string) (*repository.TodoStats, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrInvalidID
	}

	key := cache.StatsKey(accountID)

	var cached repository.TodoStats
	if cache.GetJSON(ctx, s.store, key, &cached) {
		return &cached, nil
	}

	stats, err := s.repo.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	cache.SetJSON(ctx, s.store, key, stats, statsTTL)
	return stats, nil
}

func (s *TodoService) cleanCreate(req *CreateTodoRequest) {
	req.Title = s.sanitize.PlainText(req.Title)
	req.Notes = s.sanitize.RichText(req.Notes)
	req.Category = s.sanitize.PlainText(req.Category)
	req.Tags = s.cleanTags(req.Tags)
}

func (s *TodoService) cleanUpdate(req *UpdateTodoRequest) {
	req.Title = s.sanitize.PlainText(req.Title)
	req.Notes = s.sanitize.RichText(req.Notes)
	req.Category = s.sanitize.PlainText(req.Category)
	req.Tags = s.cleanTags(req.Tags)
}

func (s *TodoService) cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(s.sanitize.PlainText(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func parseIDs(accountID, todoID string) (uuid.UUID, uuid.UUID, error) {
	userID, err := uuid.Parse(accountID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidID
	}
	id, err := uuid.Parse(todoID)
	if err != nil {
		return uuid.Nil, uuid.Nil, ErrInvalidID
	}
	return userID, id, nil
}

func normalizeParams(params *repository.ListTodoParams) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 || params.Limit > 100 {
		params.Limit = 20
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toResponse(todo *repository.Todo) TodoResponse {
	return TodoResponse{
		ID:          todo.ID.String(),
		Title:       todo.Title,
		Notes:       deref(todo.Notes),
		Category:    deref(todo.Category),
		Tags:        todo.Tags,
		Status:      todo.Status,
		Priority:    todo.Priority,
		DueAt:       todo.DueAt,
		CompletedAt: todo.CompletedAt,
		CreatedAt:   todo.CreatedAt,
		UpdatedAt:   todo.UpdatedAt,
	}
}

func toResponses(todos []repository.Todo) []TodoResponse {
	out := make([]TodoResponse, 0, len(todos))
	for i := range todos {
		out = append(out, toResponse(&todos[i]))
	}
	return out
}
