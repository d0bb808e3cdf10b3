package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Common errors
var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// Config contains retry configuration.
// The wait before retry n (0-based) is BaseInterval * Multiplier^n + uniform(0, JitterWindow).
type Config struct {
	// MaxRetries is the maximum number of retries after the initial attempt
	MaxRetries int
	// BaseInterval is the backoff before the first retry (default: 100ms)
	BaseInterval time.Duration
	// Multiplier grows the interval per retry (default: 2.0)
	Multiplier float64
	// JitterWindow is the upper bound of the additive random jitter
	JitterWindow time.Duration
	// MaxInterval caps the backoff, zero means uncapped
	MaxInterval time.Duration
	// RetryIf decides which errors are retried. Nil retries everything not marked Permanent.
	RetryIf func(err error) bool
}

// DefaultConfig returns default retry configuration: 3 retries, 100ms base, 100ms jitter
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		BaseInterval: 100 * time.Millisecond,
		Multiplier:   2.0,
		JitterWindow: 100 * time.Millisecond,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// RetryableError wraps an error indicating it should be retried
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable marks an error as retryable regardless of RetryIf
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// PermanentError wraps an error indicating it should NOT be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent (not retryable)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Result contains the result of a retry operation
type Result struct {
	// Err is the final error (nil if successful)
	Err error
	// Attempts is the total number of attempts made (including initial)
	Attempts int
	// TotalDuration is the total time spent including waits
	TotalDuration time.Duration
	// LastError is the error from the last attempt
	LastError error
}

// Retrier handles retry logic with exponential backoff and additive jitter
type Retrier struct {
	config *Config
	jitter func(window time.Duration) time.Duration
}

// New creates a new Retrier with the given configuration
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}

	cfg := *config
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 100 * time.Millisecond
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterWindow < 0 {
		cfg.JitterWindow = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return &Retrier{
		config: &cfg,
		jitter: uniformJitter,
	}
}

func uniformJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}

// Do executes the operation with retry logic
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	return r.DoWithCallback(ctx, op, nil)
}

// RetryCallback is called before each retry attempt
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// DoWithCallback executes the operation with retry logic and a callback
func (r *Retrier) DoWithCallback(ctx context.Context, op Operation, callback RetryCallback) *Result {
	startTime := time.Now()
	result := &Result{}

	finish := func(err, last error) *Result {
		result.Err = err
		result.LastError = last
		result.TotalDuration = time.Since(startTime)
		return result
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			return finish(ErrContextCanceled, lastErr)
		}

		err := op(ctx)
		if err == nil {
			return finish(nil, nil)
		}
		lastErr = err

		if !r.shouldRetry(err) {
			err = unwrapPermanent(err)
			return finish(err, err)
		}

		if attempt == r.config.MaxRetries {
			break
		}

		interval := r.calculateInterval(attempt)
		if callback != nil {
			callback(attempt+1, err, interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return finish(ErrContextCanceled, lastErr)
		case <-timer.C:
		}
	}

	return finish(ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) shouldRetry(err error) bool {
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return true
}

func unwrapPermanent(err error) error {
	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return permErr.Err
	}
	return err
}

// calculateInterval returns base * multiplier^attempt + jitter, capped at MaxInterval
func (r *Retrier) calculateInterval(attempt int) time.Duration {
	interval := time.Duration(float64(r.config.BaseInterval) * math.Pow(r.config.Multiplier, float64(attempt)))
	interval += r.jitter(r.config.JitterWindow)

	if r.config.MaxInterval > 0 && interval > r.config.MaxInterval {
		interval = r.config.MaxInterval
	}
	return interval
}

// Do is a convenience function that creates a retrier and executes the operation
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}
