// Package retry provides the single retry/backoff policy shared by every
// provider call site. Error classification comes from the llm error
// taxonomy: rate-limit and quota errors back off and retry, invalid-request
// and safety errors fail immediately.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/turnstile-ai/turnstile/llm"
)

// Policy defines shared backoff/attempt-count semantics.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	logger          zerolog.Logger
}

// NewPolicy creates a retry policy with the given bounds.
func NewPolicy(maxAttempts uint64, initialInterval, maxInterval time.Duration, logger zerolog.Logger) *Policy {
	return &Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: initialInterval,
		MaxInterval:     maxInterval,
		logger:          logger.With().Str("component", "retryPolicy").Logger(),
	}
}

// DefaultPolicy returns the standard provider-call policy: three retries
// with exponential backoff starting at one second.
func DefaultPolicy(logger zerolog.Logger) *Policy {
	return NewPolicy(3, time.Second, 30*time.Second, logger)
}

// Do runs op, retrying retryable failures with exponential backoff until
// the attempt budget is exhausted or ctx is canceled. Non-retryable errors
// are returned immediately.
func (p *Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval

	var skipInterval bool
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !llm.IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		// A provider-supplied retry-after hint overrides the computed
		// backoff interval for rate limits.
		if retryAfter := llm.ExtractRetryAfter(err); retryAfter != nil {
			select {
			case <-time.After(*retryAfter):
				skipInterval = true
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		p.logger.Warn().Err(err).Msg("Retryable provider error, backing off")
		return err
	}

	next := &hintBackOff{
		BackOff: backoff.WithMaxRetries(bo, p.MaxAttempts),
		skip:    &skipInterval,
	}
	return backoff.Retry(wrapped, backoff.WithContext(next, ctx))
}

// hintBackOff zeroes the computed interval for an attempt that already slept
// a provider retry-after hint, so the two waits never stack. The inner
// BackOff is still consulted to keep attempt accounting intact.
type hintBackOff struct {
	backoff.BackOff
	skip *bool
}

func (h *hintBackOff) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if *h.skip {
		*h.skip = false
		if d != backoff.Stop {
			return 0
		}
	}
	return d
}

// Complete calls client.Complete under the policy.
func (p *Policy) Complete(ctx context.Context, client llm.Client, req *llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := p.Do(ctx, func() error {
		var callErr error
		resp, callErr = client.Complete(ctx, req)
		return callErr
	})
	return resp, err
}
