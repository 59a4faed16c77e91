// Package llm provides language-model completion clients.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/chatd/internal/config"
	"github.com/ashureev/chatd/internal/domain"
)

// Completer turns a prompt into the assistant's reply text.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, messages []domain.Message) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	return f(ctx, messages)
}

// ErrRejected marks a request the provider refused (4xx other than 408/429).
// Such requests are not retried.
var ErrRejected = errors.New("model request rejected")

// New builds the configured provider client wrapped with retry and circuit
// breaking.
func New(cfg config.ModelConfig) (*Resilient, error) {
	var inner Completer
	switch cfg.Provider {
	case config.ProviderOpenAI, config.ProviderGemini:
		inner = NewOpenAIClient(cfg.APIKey, cfg.APIBase, cfg.Name, cfg.Timeout)
	case config.ProviderEcho:
		inner = Echo{}
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}

	return NewResilient(inner, ResilienceConfig{
		MaxAttempts:      cfg.MaxRetries,
		RetryDelay:       cfg.RetryDelay,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerTimeout:   cfg.BreakerTimeout,
		AttemptTimeout:   cfg.Timeout,
	}), nil
}
