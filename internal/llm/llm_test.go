package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientComplete(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "hello", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("secret", srv.URL+"/v1/", "test-model", time.Second)
	reply, err := client.Complete(context.Background(), []domain.Message{
		domain.NewSystemMessage("You are a helpful assistant."),
		domain.NewUserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestOpenAIClientErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantRejected bool
	}{
		{"bad request is rejected", http.StatusBadRequest, `{"error":{"message":"bad"}}`, true},
		{"unauthorized is rejected", http.StatusUnauthorized, `nope`, true},
		{"rate limit is retryable", http.StatusTooManyRequests, `slow down`, false},
		{"server error is retryable", http.StatusBadGateway, `oops`, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, false},
		{"malformed body", http.StatusOK, `{`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAIClient("", srv.URL, "m", time.Second).Complete(context.Background(), nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, errors.Is(err, ErrRejected))
		})
	}
}

func TestEchoRepliesWithLastUserMessage(t *testing.T) {
	t.Parallel()

	reply, err := Echo{}.Complete(context.Background(), []domain.Message{
		domain.NewUserMessage("first"),
		domain.NewAssistantMessage("ignored"),
		domain.NewUserMessage(" second "),
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: second", reply)

	reply, err = Echo{}.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "echo", reply)
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := CompleterFunc(func(context.Context, []domain.Message) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})

	r := NewResilient(inner, ResilienceConfig{MaxAttempts: 3, RetryDelay: time.Millisecond, BreakerThreshold: 5})
	reply, err := r.Complete(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilientDoesNotRetryRejected(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := CompleterFunc(func(context.Context, []domain.Message) (string, error) {
		calls.Add(1)
		return "", ErrRejected
	})

	r := NewResilient(inner, ResilienceConfig{MaxAttempts: 3, RetryDelay: time.Millisecond, BreakerThreshold: 5})
	_, err := r.Complete(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResilientOpensBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inner := CompleterFunc(func(context.Context, []domain.Message) (string, error) {
		calls.Add(1)
		return "", errors.New("down")
	})

	r := NewResilient(inner, ResilienceConfig{
		MaxAttempts:      1,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	})
	initial := r.BreakerState()

	for i := 0; i < 2; i++ {
		_, err := r.Complete(context.Background(), nil)
		require.ErrorIs(t, err, domain.ErrModelUnavailable)
	}
	require.Equal(t, int32(2), calls.Load())

	_, err := r.Complete(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must short-circuit the provider")
	assert.NotEqual(t, initial, r.BreakerState())
}

func TestResilientAppliesAttemptTimeout(t *testing.T) {
	t.Parallel()

	inner := CompleterFunc(func(ctx context.Context, _ []domain.Message) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	r := NewResilient(inner, ResilienceConfig{MaxAttempts: 1, AttemptTimeout: 20 * time.Millisecond})
	_, err := r.Complete(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestNewSelectsProvider(t *testing.T) {
	t.Parallel()

	r, err := New(config.ModelConfig{Provider: config.ProviderEcho, MaxRetries: 1})
	require.NoError(t, err)
	reply, err := r.Complete(context.Background(), []domain.Message{domain.NewUserMessage("ping")})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", reply)

	r, err = New(config.ModelConfig{Provider: config.ProviderGemini, APIBase: "https://example.invalid", Name: "g"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, r.inner)

	_, err = New(config.ModelConfig{Provider: "llama"})
	require.Error(t, err)
}
