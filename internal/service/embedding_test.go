package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/tunematch/internal/config"
)

func TestEmbeddingRegistry(t *testing.T) {
	t.Setenv("TUNEMATCH_TEST_JINA_KEY", "secret")
	registry, err := NewEmbeddingRegistry([]config.EmbeddingConfig{
		{Name: "missing-key", Provider: config.ProviderJina, Model: "m", Dimensions: 8},
		{Name: "jina", Provider: config.ProviderJina, Model: "jina-embeddings-v3", APIKeyEnv: "TUNEMATCH_TEST_JINA_KEY", Dimensions: 1024},
		{Name: "local", Provider: config.ProviderOpenAICompatible, Model: "bge-m3", APIKey: "k", BaseURL: "http://localhost:8080/v1", Dimensions: 1024},
		{Name: "bad", Provider: "word2vec", Model: "m", APIKey: "k", Dimensions: 8},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Count())
	assert.Equal(t, []string{"jina", "local"}, registry.Names())
	assert.Equal(t, "jina", registry.DefaultName())
	assert.Equal(t, "jina-embeddings-v3", registry.Default().GetModel())

	provider, ok := registry.Get("local")
	require.True(t, ok)
	assert.IsType(t, &OpenAIProvider{}, provider)
	_, ok = registry.Get("missing-key")
	assert.False(t, ok)

	bundle, err := registry.ModelBundle("", config.ModelBundleConfig{EmotionModel: "emo-1", Version: "2"})
	require.NoError(t, err)
	assert.Equal(t, "jina/jina-embeddings-v3@1024", bundle.EmbeddingModelID)
	assert.Equal(t, "emo-1", bundle.EmotionModelID)
	assert.Equal(t, "2", bundle.Version)

	_, err = registry.ModelBundle("nope", config.ModelBundleConfig{})
	assert.Error(t, err)
}

func TestEmbeddingRegistryPrefersDefaultFlag(t *testing.T) {
	registry, err := NewEmbeddingRegistry([]config.EmbeddingConfig{
		{Name: "a", Provider: config.ProviderJina, Model: "m1", APIKey: "k", Dimensions: 8},
		{Name: "b", Provider: config.ProviderJina, Model: "m2", APIKey: "k", Dimensions: 8, IsDefault: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "b", registry.DefaultName())
}

func TestEmbeddingRegistryRejectsEmptyConfig(t *testing.T) {
	_, err := NewEmbeddingRegistry(nil)
	assert.Error(t, err)

	_, err = NewEmbeddingRegistry([]config.EmbeddingConfig{{Name: "x"}})
	assert.Error(t, err)
}

func TestJinaProviderEmbedBatch(t *testing.T) {
	var got jinaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose; the index field decides placement.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer server.Close()

	p := NewJinaProvider(&EmbeddingProviderConfig{Model: "jina-embeddings-v3", APIKey: "key", BaseURL: server.URL + "/", Dimensions: 2})
	vectors, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, []string{"first", "second"}, got.Input)
	assert.Equal(t, "text-matching", got.Task)
	assert.Equal(t, 2, got.Dimensions)
}

func TestJinaProviderErrors(t *testing.T) {
	status := http.StatusServiceUnavailable
	body := `{"detail":"overloaded"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	p := NewJinaProvider(&EmbeddingProviderConfig{Model: "m", APIKey: "key", BaseURL: server.URL, Dimensions: 2})

	_, err := p.EmbedBatch(context.Background(), []string{"x"})
	var berr *BackendError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, http.StatusServiceUnavailable, berr.StatusCode)
	assert.Equal(t, "overloaded", berr.Message)
	assert.True(t, isRetryable(err))

	status, body = http.StatusOK, `{"data":[{"index":0,"embedding":[1,0,0]}]}`
	_, err = p.EmbedBatch(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)
	assert.False(t, isRetryable(err))

	vectors, err := p.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestJinaProviderRejectsMixedLengthsWithoutDimensions(t *testing.T) {
	body := `{"data":[{"index":0,"embedding":[1,0]},{"index":1,"embedding":[0,1,0]}]}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	p := NewJinaProvider(&EmbeddingProviderConfig{Model: "m", APIKey: "key", BaseURL: server.URL})

	_, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrInvalidEmbedding)

	body = `{"data":[{"index":0,"embedding":[1,0,0]},{"index":1,"embedding":[0,1,0]}]}`
	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestCheckEmbeddings(t *testing.T) {
	assert.NoError(t, checkEmbeddings([][]float32{{1, 2}, {3, 4}}, 0))
	assert.ErrorIs(t, checkEmbeddings([][]float32{{1, 2}, {3}}, 0), ErrInvalidEmbedding)
	assert.ErrorIs(t, checkEmbeddings([][]float32{{1, 2}, nil}, 0), ErrInvalidEmbedding)
	assert.ErrorIs(t, checkEmbeddings([][]float32{{1, 2}}, 3), ErrInvalidEmbedding)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &BackendError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &BackendError{StatusCode: http.StatusBadGateway}, true},
		{"bad request", &BackendError{StatusCode: http.StatusBadRequest}, false},
		{"unauthorized", fmt.Errorf("wrapped: %w", &BackendError{StatusCode: http.StatusUnauthorized}), false},
		{"invalid embedding", fmt.Errorf("%w: short", ErrInvalidEmbedding), false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"breaker open", gobreaker.ErrOpenState, true},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(tt.err))
		})
	}
}

func TestVectorizationError(t *testing.T) {
	cause := &BackendError{Provider: "Jina", StatusCode: http.StatusServiceUnavailable}
	err := newVectorizationError("t1", "embed", cause)

	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "track t1")
	assert.Same(t, err, newVectorizationError("t1", "persist", err))
	assert.False(t, IsRetryable(cause))
}

func TestThrottleRetriesTransientFailures(t *testing.T) {
	throttle := NewThrottle(ThrottleConfig{Name: "retry", MaxConcurrent: 1, RetryCount: 3, RetryBackoff: time.Millisecond}, nil)

	calls := 0
	err := throttle.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &BackendError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestThrottleDoesNotRetryClientErrors(t *testing.T) {
	throttle := NewThrottle(ThrottleConfig{Name: "no-retry", MaxConcurrent: 1, RetryCount: 3, RetryBackoff: time.Millisecond}, nil)

	calls := 0
	err := throttle.Do(context.Background(), func(context.Context) error {
		calls++
		return &BackendError{StatusCode: http.StatusBadRequest}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)

	// Client errors do not count against the breaker.
	for i := 0; i < 10; i++ {
		_ = throttle.Do(context.Background(), func(context.Context) error {
			return &BackendError{StatusCode: http.StatusBadRequest}
		})
	}
	err = throttle.Do(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestThrottleOpensBreaker(t *testing.T) {
	throttle := NewThrottle(ThrottleConfig{
		Name:            "breaker",
		MaxConcurrent:   1,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, nil)

	calls := 0
	failing := func(context.Context) error {
		calls++
		return &BackendError{StatusCode: http.StatusInternalServerError}
	}
	for i := 0; i < 2; i++ {
		assert.Error(t, throttle.Do(context.Background(), failing))
	}
	err := throttle.Do(context.Background(), failing)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls)
}

func TestThrottleStopsOnCancel(t *testing.T) {
	throttle := NewThrottle(ThrottleConfig{Name: "cancel", MaxConcurrent: 1, RetryCount: 5, RetryBackoff: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := throttle.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &BackendError{StatusCode: http.StatusServiceUnavailable}
	})
	var berr *BackendError
	assert.ErrorAs(t, err, &berr)
	assert.Equal(t, 1, calls)
}
