// Package retry wraps transient-failure retries with exponential backoff.
package retry

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

type Config struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or MaxTries is hit.
// The last error is returned unwrapped.
func Do[T any](ctx context.Context, cfg Config, retryable func(error) bool, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.Multiplier = 2

	tries := cfg.MaxTries
	if tries == 0 {
		tries = 1
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && (retryable == nil || !retryable(err)) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

// Exec is Do for operations without a result.
func Exec(ctx context.Context, cfg Config, retryable func(error) bool, op func() error) error {
	_, err := Do(ctx, cfg, retryable, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

// TransientStatus is true for rate limiting and server-side failures.
func TransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
