package todo

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yumendev/taskvault/internal/auth"
	appctx "github.com/yumendev/taskvault/internal/context"
	"github.com/yumendev/taskvault/internal/repository"
)

// TodoHandler handles HTTP requests for todo endpoints
type TodoHandler struct {
	service *TodoService
}

// NewTodoHandler creates a new TodoHandler instance
func NewTodoHandler(service *TodoService) *TodoHandler {
	return &TodoHandler{
		service: service,
	}
}

// Create handles todo creation
// POST /api/v1/todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req CreateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid request body", nil)
		return
	}

	todo, validationErrors, err := h.service.Create(r.Context(), userID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	auth.WriteSuccess(w, http.StatusCreated, map[string]interface{}{"todo": todo})
}

// List handles paginated todo listing
// GET /api/v1/todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	params := listParamsFromQuery(r)

	result, err := h.service.List(r.Context(), userID, params)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, result)
}

// Get handles fetching a single todo
// GET /api/v1/todos/{todoID}
func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	todo, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "todoID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"todo": todo})
}

// Update handles todo updates
// PUT /api/v1/todos/{todoID}
func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var req UpdateTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteError(w, http.StatusBadRequest, auth.CodeValidationError, "Invalid request body", nil)
		return
	}

	todo, validationErrors, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "todoID"), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if len(validationErrors) > 0 {
		writeValidationErrors(w, validationErrors)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"todo": todo})
}

// Complete marks a todo completed
// POST /api/v1/todos/{todoID}/complete
func (h *TodoHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	todo, err := h.service.Complete(r.Context(), userID, chi.URLParam(r, "todoID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"todo": todo})
}

// Delete handles todo deletion
// DELETE /api/v1/todos/{todoID}
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "todoID")); err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]string{"message": "Todo deleted"})
}

// Overdue lists pending todos past their due time
// GET /api/v1/todos/overdue
func (h *TodoHandler) Overdue(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	todos, err := h.service.ListOverdue(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"todos": todos})
}

// Upcoming lists pending todos due within a window
// GET /api/v1/todos/upcoming?within=168h
func (h *TodoHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	var within time.Duration
	if raw := r.URL.Query().Get("within"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			within = parsed
		}
	}

	todos, err := h.service.ListUpcoming(r.Context(), userID, within)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"todos": todos})
}

// Categories returns the account's distinct category set
// GET /api/v1/todos/categories
func (h *TodoHandler) Categories(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	categories, err := h.service.Categories(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// Tags returns the account's distinct tag set
// GET /api/v1/todos/tags
func (h *TodoHandler) Tags(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	tags, err := h.service.Tags(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

// Stats returns aggregate statistics for the account's todos
// GET /api/v1/todos/stats
func (h *TodoHandler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeAuthTokenInvalid, "Invalid or expired token", nil)
		return
	}

	stats, err := h.service.Stats(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	auth.WriteSuccess(w, http.StatusOK, map[string]interface{}{"stats": stats})
}

func (h *TodoHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTodoNotFound), errors.Is(err, ErrInvalidID):
		auth.WriteError(w, http.StatusNotFound, auth.CodeNotFound, "Todo not found", nil)
	default:
		auth.WriteError(w, http.StatusInternalServerError, auth.CodeInternalError, "An unexpected error occurred", nil)
	}
}

func writeValidationErrors(w http.ResponseWriter, validationErrors []ValidationError) {
	details := make(map[string][]string)
	for _, ve := range validationErrors {
		details[ve.Field] = append(details[ve.Field], ve.Message)
	}
	auth.WriteError(w, http.StatusBadRequest, auth.CodeValidationError, "Request validation failed", details)
}

func listParamsFromQuery(r *http.Request) repository.ListTodoParams {
	q := r.URL.Query()

	params := repository.ListTodoParams{
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		params.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		params.Limit = limit
	}

	return params
}
