package backend

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds the attempts made for one backend operation
type RetryPolicy struct {
	MaxAttempts       int           // Total attempts including the first
	Timeout           time.Duration // Per-attempt timeout
	InitialBackoff    time.Duration // Wait before the first retry
	MaxBackoff        time.Duration // Cap for any single wait
	BackoffMultiplier float64
}

// NewRetryPolicy builds a policy from backend configuration
func NewRetryPolicy(config *common.BackendConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       config.MaxAttempts,
		Timeout:           common.MustDuration(config.Timeout, 60*time.Second),
		InitialBackoff:    common.MustDuration(config.InitialBackoff, 500*time.Millisecond),
		MaxBackoff:        common.MustDuration(config.MaxBackoff, 5*time.Second),
		BackoffMultiplier: 2,
	}
}

// CalculateBackoff returns the wait before retry number attempt (0-based), capped at MaxBackoff
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= p.BackoffMultiplier
	}

	backoff := time.Duration(float64(p.InitialBackoff) * multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

// permanentError marks a failure that another attempt cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// retrier runs backend calls under a per-attempt timeout, a shared rate limit
// and bounded exponential backoff
type retrier struct {
	policy  RetryPolicy
	limiter *rate.Limiter
	logger  arbor.ILogger
}

func newRetrier(policy RetryPolicy, requestsPerSecond float64, logger arbor.ILogger) *retrier {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retrier{policy: policy, limiter: limiter, logger: logger}
}

// do calls fn until it succeeds, returns a permanent error, or attempts run out.
// Errors that are not already typed are reported as BackendUnavailable.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := r.policy.CalculateBackoff(attempt - 1)
			r.logger.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("Retrying backend call")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return interfaces.BackendUnavailable(op, ctx.Err())
			case <-timer.C:
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return interfaces.BackendUnavailable(op, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return classify(op, perm.err)
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	r.logger.Warn().
		Str("op", op).
		Int("attempts", r.policy.MaxAttempts).
		Err(lastErr).
		Msg("Backend call failed")

	return classify(op, lastErr)
}

func classify(op string, err error) error {
	var ragErr *interfaces.RAGError
	if errors.As(err, &ragErr) {
		return err
	}
	return interfaces.BackendUnavailable(op, err)
}
