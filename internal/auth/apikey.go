package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/artify-labs/artify/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	APIKeyPrefix = "ak_"
	keyPrefixLen = 8
)

// APIKeyStore is the slice of the record store API keys need.
type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
}

// APIKeyVerifier checks raw keys against the bcrypt hashes stored for their prefix.
type APIKeyVerifier struct {
	store APIKeyStore
}

func NewAPIKeyVerifier(s APIKeyStore) *APIKeyVerifier {
	return &APIKeyVerifier{store: s}
}

func (v *APIKeyVerifier) Verify(ctx context.Context, rawKey string) (*Principal, error) {
	if len(rawKey) < keyPrefixLen {
		return nil, fmt.Errorf("%w: invalid API key format", ErrInvalidToken)
	}
	prefix := rawKey[:keyPrefixLen]

	keys, err := v.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}

	for _, key := range keys {
		if !key.Active() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}

		go func(id uuid.UUID) {
			if err := v.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
				slog.Warn("failed to update api key last_used_at", "key_id", id, "error", err)
			}
		}(key.ID)

		scopes := key.Scopes
		if len(scopes) == 0 {
			scopes = DefaultScopes
		}
		return &Principal{OwnerID: key.OwnerID, Scopes: scopes, Method: "api_key", KeyPrefix: prefix}, nil
	}

	return nil, fmt.Errorf("%w: unknown API key", ErrInvalidToken)
}

// GenerateAPIKey returns a new raw key, its lookup prefix and its bcrypt hash.
// Only the prefix and hash are stored; the raw key is shown to the user once.
func GenerateAPIKey() (raw, prefix, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	raw = APIKeyPrefix + hex.EncodeToString(buf)

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("hash api key: %w", err)
	}
	return raw, raw[:keyPrefixLen], string(hashed), nil
}

var _ Verifier = (*APIKeyVerifier)(nil)
