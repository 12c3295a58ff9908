package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/artify-labs/artify/internal/api/response"
	"github.com/artify-labs/artify/internal/auth"
)

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	verifier auth.Verifier
	required bool
}

// NewAuth creates a new Auth middleware. When required is false, requests
// without an Authorization header run as the anonymous owner.
func NewAuth(v auth.Verifier, required bool) *Auth {
	return &Auth{verifier: v, required: required}
}

// Authenticate resolves the Bearer token to a principal and stores it in the
// request context. A token that is present but invalid is always rejected.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := extractBearerToken(r)
		if !present {
			if a.required {
				response.Error(w, http.StatusUnauthorized,
					response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), auth.Anonymous())))
			return
		}
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				response.CodeInvalidToken, "Missing or invalid Authorization header", nil)
			return
		}

		p, err := a.verifier.Verify(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token expired"
				}
				response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, msg, nil)
				return
			}
			slog.Error("token verification failed", "error", err)
			response.Error(w, http.StatusInternalServerError,
				response.CodeInternal, "Failed to validate credentials", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), p)))
	})
}

// RequireScope returns middleware that checks whether the authenticated
// caller has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p, ok := GetPrincipal(r); ok && p.HasScope(scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				response.CodeForbidden, "Insufficient permissions", nil)
		})
	}
}

// extractBearerToken reports the token and whether an Authorization header
// was sent at all. A malformed header yields ("", true).
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}
