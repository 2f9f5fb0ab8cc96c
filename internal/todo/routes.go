package todo

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers todo routes with the Chi router. Every route
// requires authentication; listing-style reads carry the stricter query
// limit on top of the general API limit.
func RegisterRoutes(r chi.Router, handler *TodoHandler, authMiddleware, queryLimit Middleware) {
	r.Route("/todos", func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/", handler.Create)
		r.With(queryLimit).Get("/", handler.List)
		r.With(queryLimit).Get("/overdue", handler.Overdue)
		r.With(queryLimit).Get("/upcoming", handler.Upcoming)
		r.With(queryLimit).Get("/categories", handler.Categories)
		r.With(queryLimit).Get("/tags", handler.Tags)
		r.With(queryLimit).Get("/stats", handler.Stats)

		r.Route("/{todoID}", func(r chi.Router) {
			r.Get("/", handler.Get)
			r.Put("/", handler.Update)
			r.Post("/complete", handler.Complete)
			r.Delete("/", handler.Delete)
		})
	})
}
