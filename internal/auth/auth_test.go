package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artify-labs/artify/internal/auth"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// --- fake key store ---

type fakeKeyStore struct {
	mu      sync.Mutex
	keys    []*models.APIKey
	err     error
	touched chan uuid.UUID
}

func (f *fakeKeyStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.APIKey
	for _, k := range f.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touched != nil {
		f.touched <- id
	}
	return nil
}

func newKey(t *testing.T, owner string, scopes ...string) (string, *models.APIKey) {
	t.Helper()
	raw, prefix, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	return raw, &models.APIKey{ID: uuid.New(), OwnerID: owner, KeyPrefix: prefix, KeyHash: hash, Scopes: scopes}
}

// --- API keys ---

func TestGenerateAPIKey(t *testing.T) {
	raw, prefix, hash, err := auth.GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, len(raw) > 8)
	assert.Equal(t, auth.APIKeyPrefix, raw[:3])
	assert.Equal(t, raw[:8], prefix)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)))

	other, _, _, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)
}

func TestAPIKeyVerifier_Valid(t *testing.T) {
	raw, key := newKey(t, "svc-batch", auth.ScopeRead)
	fs := &fakeKeyStore{keys: []*models.APIKey{key}, touched: make(chan uuid.UUID, 1)}

	p, err := auth.NewAPIKeyVerifier(fs).Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "svc-batch", p.OwnerID)
	assert.Equal(t, "api_key", p.Method)
	assert.Equal(t, key.KeyPrefix, p.KeyPrefix)
	assert.True(t, p.HasScope(auth.ScopeRead))
	assert.False(t, p.HasScope(auth.ScopeSubmit))

	select {
	case id := <-fs.touched:
		assert.Equal(t, key.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("last_used_at was not updated")
	}
}

func TestAPIKeyVerifier_DefaultScopes(t *testing.T) {
	raw, key := newKey(t, "svc")
	p, err := auth.NewAPIKeyVerifier(&fakeKeyStore{keys: []*models.APIKey{key}}).Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultScopes, p.Scopes)
}

func TestAPIKeyVerifier_WrongSecret(t *testing.T) {
	raw, key := newKey(t, "svc")
	forged := raw[:8] + "0000000000000000"

	_, err := auth.NewAPIKeyVerifier(&fakeKeyStore{keys: []*models.APIKey{key}}).Verify(context.Background(), forged)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAPIKeyVerifier_TooShort(t *testing.T) {
	_, err := auth.NewAPIKeyVerifier(&fakeKeyStore{}).Verify(context.Background(), "ak_1")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAPIKeyVerifier_StoreError(t *testing.T) {
	storeErr := errors.New("db down")
	_, err := auth.NewAPIKeyVerifier(&fakeKeyStore{err: storeErr}).Verify(context.Background(), "ak_12345678abcdef")
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, auth.ErrInvalidToken)
}

// --- JWT ---

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := auth.NewJWTVerifier("s3cret", "artify")
	token, err := v.Issue("user-42", []string{auth.ScopeRead}, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", p.OwnerID)
	assert.Equal(t, "jwt", p.Method)
	assert.Equal(t, []string{auth.ScopeRead}, p.Scopes)
}

func TestJWTVerifier_NoScopesGetsDefaults(t *testing.T) {
	v := auth.NewJWTVerifier("s3cret", "")
	token, err := v.Issue("user-1", nil, time.Hour)
	require.NoError(t, err)

	p, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultScopes, p.Scopes)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	good := auth.NewJWTVerifier("s3cret", "artify")

	expired, err := good.Issue("u", nil, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := auth.NewJWTVerifier("other", "artify").Issue("u", nil, time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := auth.NewJWTVerifier("s3cret", "someone-else").Issue("u", nil, time.Hour)
	require.NoError(t, err)
	noSubject, err := good.Issue("", nil, time.Hour)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u", Issuer: "artify",
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject: "u", Issuer: "artify", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"no expiry":    noExpiry,
		"other alg":    hs512,
		"garbage":      "not.a.jwt",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := good.Verify(context.Background(), token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}

	_, err = good.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

// --- Chain ---

func TestChain_RoutesByPrefix(t *testing.T) {
	raw, key := newKey(t, "svc")
	jv := auth.NewJWTVerifier("s3cret", "")
	token, err := jv.Issue("user", nil, time.Hour)
	require.NoError(t, err)

	chain := auth.Chain{JWT: jv, APIKey: auth.NewAPIKeyVerifier(&fakeKeyStore{keys: []*models.APIKey{key}})}

	p, err := chain.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "svc", p.OwnerID)

	p, err = chain.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user", p.OwnerID)
}

func TestChain_MissingVerifierRejects(t *testing.T) {
	_, err := auth.Chain{}.Verify(context.Background(), "ak_12345678")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	_, err = auth.Chain{}.Verify(context.Background(), "eyJ.x.y")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAnonymous(t *testing.T) {
	p := auth.Anonymous()
	assert.Equal(t, auth.AnonymousOwner, p.OwnerID)
	assert.True(t, p.HasScope(auth.ScopeSubmit))
	assert.True(t, p.HasScope(auth.ScopeRead))
}

func TestAPIKey_RevokedKeyRejected(t *testing.T) {
	raw, key := newKey(t, "svc-batch")
	revoked := time.Now().UTC()
	key.DeletedAt = &revoked
	v := auth.NewAPIKeyVerifier(&fakeKeyStore{keys: []*models.APIKey{key}})

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
