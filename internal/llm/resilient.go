package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/chatd/internal/domain"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"
)

// ResilienceConfig tunes retry and circuit breaking around a Completer.
type ResilienceConfig struct {
	MaxAttempts      int
	RetryDelay       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	// AttemptTimeout bounds a single provider call; 0 means no extra bound.
	AttemptTimeout time.Duration
}

// Resilient wraps a Completer with a circuit breaker around exponential
// retries. Every failure it returns wraps domain.ErrModelUnavailable.
type Resilient struct {
	inner   Completer
	breaker circuitbreaker.CircuitBreaker[string]
	retrier retry.Retry[string]
	timeout time.Duration
}

// NewResilient wraps inner.
func NewResilient(inner Completer, cfg ResilienceConfig) *Resilient {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	threshold := cfg.BreakerThreshold
	if threshold < 1 {
		threshold = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	return &Resilient{
		inner: inner,
		breaker: circuitbreaker.New[string](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    breakerTimeout,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is >= 1
			},
		}),
		retrier: retry.New[string](retry.Config{
			MaxAttempts:        attempts,
			InitialDelay:       cfg.RetryDelay,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{ErrRejected},
		}),
		timeout: cfg.AttemptTimeout,
	}
}

// Complete calls the wrapped completer.
func (r *Resilient) Complete(ctx context.Context, messages []domain.Message) (string, error) {
	reply, err := r.breaker.Execute(ctx, func(ctx context.Context) (string, error) {
		return r.retrier.Do(ctx, func(ctx context.Context) (string, error) {
			if r.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, r.timeout)
				defer cancel()
			}
			return r.inner.Complete(ctx, messages)
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	return reply, nil
}

// BreakerState reports the circuit breaker state ("closed", "open", ...).
func (r *Resilient) BreakerState() string {
	return r.breaker.State().String()
}
