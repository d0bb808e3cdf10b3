package service

import (
	"context"
	"errors"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
)

// RetryPolicy controls which reservation failures are retried and how often
type RetryPolicy struct {
	MaxRetries   int
	BaseInterval time.Duration
	JitterWindow time.Duration
	// RetryOnInventory also retries SeatUnavailable and InsufficientInventory
	RetryOnInventory bool
}

// DefaultRetryPolicy retries store contention 3 times, 100ms base, 100ms jitter
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseInterval: 100 * time.Millisecond,
		JitterWindow: 100 * time.Millisecond,
	}
}

// RetryCoordinator wraps a ReservationEngine with bounded retry of contention failures
type RetryCoordinator struct {
	engine ReservationEngine
	policy RetryPolicy
	log    *logger.Logger
}

var _ ReservationEngine = (*RetryCoordinator)(nil)

// NewRetryCoordinator creates a new RetryCoordinator
func NewRetryCoordinator(engine ReservationEngine, policy RetryPolicy, log *logger.Logger) *RetryCoordinator {
	if log == nil {
		log = logger.Get()
	}
	return &RetryCoordinator{engine: engine, policy: policy, log: log}
}

// Reserve runs the reservation, retrying retryable failures with exponential
// backoff and jitter. When retries run out the last failure is returned as is.
func (c *RetryCoordinator) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResult, error) {
	retrier := retry.New(&retry.Config{
		MaxRetries:   c.policy.MaxRetries,
		BaseInterval: c.policy.BaseInterval,
		Multiplier:   2.0,
		JitterWindow: c.policy.JitterWindow,
		RetryIf:      c.retryable(req),
	})

	var result *ReserveResult
	res := retrier.DoWithCallback(ctx, func(ctx context.Context) error {
		r, err := c.engine.Reserve(ctx, req)
		if err != nil {
			return err
		}
		result = r
		return nil
	}, func(attempt int, err error, next time.Duration) {
		metrics.RecordRetry(ctx, attempt)
		c.log.Warn("Retrying reservation",
			"attempt", attempt,
			"next_interval", next,
			"target_id", req.TargetID,
			"error", err,
		)
	})

	switch {
	case res.Err == nil:
		return result, nil
	case errors.Is(res.Err, retry.ErrMaxRetriesExceeded):
		metrics.RecordRetriesExhausted(ctx)
		c.log.Warn("Reservation retries exhausted", "attempts", res.Attempts, "target_id", req.TargetID, "error", res.LastError)
		return nil, res.LastError
	case errors.Is(res.Err, retry.ErrContextCanceled):
		if res.LastError != nil {
			return nil, res.LastError
		}
		return nil, ctx.Err()
	}
	return nil, res.Err
}

// retryable decides per failure category. Ambiguous store failures are only
// safe to retry when the request carries an idempotency key.
func (c *RetryCoordinator) retryable(req *ReserveRequest) func(error) bool {
	return func(err error) bool {
		switch domain.CategoryOf(err) {
		case domain.CategoryContention:
			if errors.Is(err, domain.ErrContention) {
				return true
			}
			return c.policy.RetryOnInventory
		case domain.CategoryUnknown:
			if errors.Is(err, domain.ErrDuplicateReference) || errors.Is(err, domain.ErrDuplicateTicketNumber) {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			return req != nil && req.IdempotencyKey != ""
		}
		return false
	}
}
