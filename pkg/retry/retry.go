// Package retry provides retry logic with exponential backoff for
// operations against Provider Adapters.
package retry

import (
	"context"
	stderr "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cloudflux/orchestrator/pkg/errors"
)

// Config defines retry behavior configuration.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the
	// first (default 3, per the Migration Engine's default max_attempts).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay grows after each retry.
	Multiplier float64

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool

	// RetryableCodes extends the retry decision beyond an error's own
	// Retryable flag.
	RetryableCodes []errors.Code

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the Migration Engine's default retry policy:
// three attempts, exponential backoff with jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableCodes: []errors.Code{
			errors.CodeTransient,
			errors.CodeUnavailable,
			errors.CodeOverloaded,
		},
	}
}

// Retryer executes a function with retry logic.
type Retryer struct {
	config Config
}

// New creates a Retryer, filling zero-valued fields with defaults.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 10 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	return &Retryer{config: config}
}

// Do executes fn with retry, without a caller-supplied context.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn with retry, aborting early if ctx is
// cancelled between attempts or during a backoff sleep. A
// QUOTA_EXCEEDED error backs off aggressively and is granted exactly
// one extra retry beyond the normal budget, per the quota policy.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	maxAttempts := r.config.MaxAttempts
	grantedQuotaRetry := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		exhausted := attempt >= maxAttempts
		if exhausted && errors.CodeOf(err) == errors.CodeQuotaExceeded && !grantedQuotaRetry {
			grantedQuotaRetry = true
			maxAttempts++
			exhausted = false
		}

		if !r.shouldRetry(err) || exhausted {
			return err
		}

		delay := r.calculateDelay(attempt)
		if errors.CodeOf(err) == errors.CodeQuotaExceeded {
			delay *= 4
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("max retry attempts (%d) exceeded", maxAttempts)
}

// shouldRetry reports whether err is retryable, either via its own
// Retryable flag or the Retryer's configured code list.
func (r *Retryer) shouldRetry(err error) bool {
	var e *errors.Error
	if stderr.As(err, &e) {
		if e.Retryable {
			return true
		}
		for _, code := range r.config.RetryableCodes {
			if e.Code == code {
				return true
			}
		}
	}
	return false
}

// calculateDelay computes exponential backoff with optional jitter.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// WithMaxAttempts returns a copy of the Retryer with a different attempt cap.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	c := r.config
	c.MaxAttempts = attempts
	return New(c)
}

// WithOnRetry returns a copy of the Retryer with a retry callback attached.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	c := r.config
	c.OnRetry = callback
	return New(c)
}
