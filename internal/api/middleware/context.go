package middleware

import (
	"context"
	"net/http"

	"github.com/artify-labs/artify/internal/auth"
)

type contextKey string

const principalKey contextKey = "principal"

// SetPrincipal stores the authenticated caller in ctx.
func SetPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal returns the caller set by Authenticate.
func GetPrincipal(r *http.Request) (*auth.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(*auth.Principal)
	return p, ok && p != nil
}

// GetOwnerID returns the owner of the current request, or "" when
// Authenticate did not run.
func GetOwnerID(r *http.Request) string {
	if p, ok := GetPrincipal(r); ok {
		return p.OwnerID
	}
	return ""
}
