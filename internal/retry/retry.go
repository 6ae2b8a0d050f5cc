// Package retry provides exponential backoff for operations against flaky
// upstreams.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts caps the number of attempts; zero or negative means
	// retry until the context is cancelled.
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter randomizes each delay within ±25%.
	Jitter bool
}

// DefaultConfig returns a sensible default for upstream calls.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// Do executes op until it succeeds, the attempt cap is hit, or ctx is
// cancelled. Returns the last error, or ctx.Err() on cancellation.
func Do(ctx context.Context, config Config, op func() error) error {
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Factor < 1 {
		config.Factor = 2.0
	}

	delay := config.InitialDelay
	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if config.MaxAttempts > 0 && attempt >= config.MaxAttempts {
			return lastErr
		}

		wait := delay
		if config.Jitter {
			jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
			wait = delay - delay/4 + jitter
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
}
