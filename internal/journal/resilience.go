package journal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// RetryConfig configures exponential backoff for journal writes.
type RetryConfig struct {
	InitialInterval time.Duration // Initial retry interval (default 20ms)
	MaxInterval     time.Duration // Maximum retry interval (default 1s)
	MaxRetries      uint64        // Attempts after the first (default 3)
	Multiplier      float64       // Backoff multiplier (default 2.0)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxRetries:      3,
		Multiplier:      2.0,
	}
}

// BreakerConfig configures the circuit breaker guarding the store.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // Trip after this many failed writes in a row (default 5)
	Timeout             time.Duration // Stay open this long before probing (default 10s)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		Timeout:             10 * time.Second,
	}
}

func newBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	failures := cfg.ConsecutiveFailures
	if failures == 0 {
		failures = DefaultBreakerConfig().ConsecutiveFailures
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1, // One probe write in half-open state
		Interval:    0, // Don't clear counts automatically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("journal breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Shutdown is not a store failure
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
}

// writeWithRetry runs write through the breaker, retrying transient failures
// with exponential backoff. An open breaker is not retried.
func writeWithRetry(ctx context.Context, cb *gobreaker.CircuitBreaker, cfg RetryConfig, write func(context.Context) error) error {
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		_, err := cb.Execute(func() (interface{}, error) {
			return nil, write(ctx)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialInterval
	policy.MaxInterval = cfg.MaxInterval
	policy.MaxElapsedTime = 0
	policy.Multiplier = cfg.Multiplier

	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, cfg.MaxRetries), ctx))
}
