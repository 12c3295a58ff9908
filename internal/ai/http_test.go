package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generationServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHTTPGenerate_Success(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{"cat"}, body["detected_objects"])
		assert.Equal(t, "symbolic", body["style"])

		_, _ = w.Write([]byte(`{"generated_description":"A cat symbolizes independence."}`))
	})

	g := NewHTTPGenerator(ts.URL, 5*time.Second)
	res, err := g.Generate(context.Background(), Request{Labels: []string{"cat"}, Style: "symbolic"})
	require.NoError(t, err)
	assert.Equal(t, "A cat symbolizes independence.", res.Text)
	assert.Equal(t, "http", res.Provider)
}

func TestHTTPGenerate_EmptyLabelsSentAsArray(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []any{}, body["detected_objects"])
		assert.Equal(t, "abstract", body["style"])
		_, _ = w.Write([]byte(`{"generated_description":"Something abstract and open."}`))
	})

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(context.Background(), Request{Style: "abstract"})
	require.NoError(t, err)
}

func TestHTTPGenerate_ServerError(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(context.Background(), Request{Labels: []string{"cat"}})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHTTPGenerate_BadRequest(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestHTTPGenerate_EmptyDescription(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generated_description":"   "}`))
	})

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestHTTPGenerate_MalformedJSON(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestHTTPGenerate_Timeout(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	_, err := NewHTTPGenerator(ts.URL, 50*time.Millisecond).Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInferenceTimeout)
}

func TestHTTPGenerate_CancelledContext(t *testing.T) {
	ts := generationServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"generated_description":"never read"}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPGenerator(ts.URL, 5*time.Second).Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
