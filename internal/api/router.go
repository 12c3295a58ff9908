package api

import (
	"net/http"

	mw "github.com/artify-labs/artify/internal/api/middleware"
	"github.com/artify-labs/artify/internal/api/response"
	"github.com/artify-labs/artify/internal/auth"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	ProcessHandler http.HandlerFunc
	StatusHandler  http.HandlerFunc
	HistoryHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.CodeMethodNotAllowed, "Method not allowed", nil)
	})

	// Public health check
	r.Get("/health", orNotImplemented(deps.HealthHandler))

	// Identified routes; whether a token is mandatory is up to deps.Auth.
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.With(deps.RateLimit.Limit, deps.Auth.RequireScope(auth.ScopeSubmit)).
			Post("/process", orNotImplemented(deps.ProcessHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(auth.ScopeRead))

			r.Get("/status/{id}", orNotImplemented(deps.StatusHandler))
			r.Get("/history", orNotImplemented(deps.HistoryHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
