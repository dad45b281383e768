package platform

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/spec-kit/verification-gate/internal/config"
	apperrors "github.com/spec-kit/verification-gate/pkg/util"
)

// Caller executes platform operations with bounded exponential backoff and a
// process-wide rate limiter. Permission and not-found failures are never
// retried; everything else is treated as transient until attempts run out.
type Caller struct {
	policy  config.RestoreConfig
	limiter *rate.Limiter
}

// NewCaller builds a Caller from the configured retry policy.
func NewCaller(policy config.RestoreConfig) *Caller {
	perSec := policy.PlatformCallsPerSec
	if perSec <= 0 {
		perSec = 10
	}
	return &Caller{
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
	}
}

// Do runs fn under the retry policy. The returned error, when non-nil, is a
// DomainError carrying the failure taxonomy.
func (c *Caller) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	operation := func() (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := fn(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrPermissionDenied):
			return struct{}{}, backoff.Permanent(apperrors.NewPermission(op, err))
		case errors.Is(err, ErrNotFound):
			return struct{}{}, backoff.Permanent(apperrors.NewNotFound("platform resource", map[string]any{"op": op}))
		default:
			// Rate limits and unknown failures retry until exhaustion.
			return struct{}{}, err
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.policy.InitialInterval()
	expo.MaxInterval = c.policy.MaxInterval()

	attempts := c.policy.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err == nil {
		return nil
	}
	var domainErr *apperrors.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return apperrors.NewTransient(op, err)
}
