// Package auth resolves bearer tokens to the owner on whose behalf a request is made.
// End users present HS256 JWTs; service accounts present API keys prefixed "ak_".
package auth

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	ScopeSubmit = "submit"
	ScopeRead   = "read"

	// AnonymousOwner owns records submitted without credentials when
	// authentication is optional.
	AnonymousOwner = "anonymous"
)

// DefaultScopes are granted when a credential does not list any.
var DefaultScopes = []string{ScopeSubmit, ScopeRead}

// Principal is an authenticated caller.
type Principal struct {
	OwnerID   string
	Scopes    []string
	Method    string // "jwt", "api_key" or "anonymous"
	KeyPrefix string // set for API keys
}

// HasScope reports whether p was granted scope.
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Anonymous returns the principal used when no credentials are presented.
func Anonymous() *Principal {
	return &Principal{OwnerID: AnonymousOwner, Scopes: DefaultScopes, Method: "anonymous"}
}

// Verifier resolves a raw bearer token to a Principal. It returns an error
// wrapping ErrInvalidToken when the token is not acceptable; any other error
// means verification itself failed.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// Chain sends API keys to one verifier and everything else to another.
// Either may be nil, in which case that kind of token is rejected.
type Chain struct {
	JWT    Verifier
	APIKey Verifier
}

func (c Chain) Verify(ctx context.Context, token string) (*Principal, error) {
	if strings.HasPrefix(token, APIKeyPrefix) {
		if c.APIKey == nil {
			return nil, ErrInvalidToken
		}
		return c.APIKey.Verify(ctx, token)
	}
	if c.JWT == nil {
		return nil, ErrInvalidToken
	}
	return c.JWT.Verify(ctx, token)
}
