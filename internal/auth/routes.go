package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// RouteLimits carries the per-class rate-limit middleware applied to the
// public auth endpoints.
type RouteLimits struct {
	Registration  Middleware
	Login         Middleware
	PasswordReset Middleware
}

// RegisterRoutes registers all authentication routes with the Chi router.
// Public routes: /register, /login, /refresh, /password-reset/*, /verify-email.
// Protected routes: /logout, /change-password, /me.
func RegisterRoutes(r chi.Router, handler *AuthHandler, authMiddleware Middleware, limits RouteLimits) {
	r.Route("/auth", func(r chi.Router) {
		r.With(limits.Registration).Post("/register", handler.Register)
		r.With(limits.Login).Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.With(limits.PasswordReset).Post("/password-reset/request", handler.RequestPasswordReset)
		r.With(limits.PasswordReset).Post("/password-reset/confirm", handler.ResetPassword)
		r.Post("/verify-email", handler.VerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Post("/logout", handler.Logout)
			r.Post("/change-password", handler.ChangePassword)
			r.Get("/me", handler.GetMe)
			r.Put("/me", handler.UpdateMe)
			r.Delete("/me", handler.DeleteMe)
		})
	})
}
