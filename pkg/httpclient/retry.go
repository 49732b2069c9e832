package httpclient

import (
	"context"
	"errors"
	"net"

	"github.com/cenkalti/backoff/v5"

	"github.com/wisbric/otter/pkg/model"
)

// RetryPredicate decides whether a given failure from a completed call is
// retryable. A caller-supplied predicate replaces defaultRetryable
// entirely: a 429 or transport error is retried only if it returns true.
type RetryPredicate func(err error) bool

// defaultRetryable implements "a 429 or transport error is retryable; an
// APIError whose code the caller opted out of is not".
func defaultRetryable(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429
	}
	var authUnavail *model.AuthenticationUnavailableError
	if errors.As(err, &authUnavail) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// retryConfig bundles the bounded-retry knobs from §4.A layer 5.
type retryConfig struct {
	MaxRetries int // default 5
	Predicate  RetryPredicate
}

func (c retryConfig) predicate() RetryPredicate {
	if c.Predicate != nil {
		return c.Predicate
	}
	return defaultRetryable
}

func (c retryConfig) maxTries() uint {
	if c.MaxRetries <= 0 {
		return 5
	}
	return uint(c.MaxRetries)
}

// withRetry implements layer 5: bounded exponential-backoff retries around
// fn, using the caller's retry predicate (or the default) to classify
// failures. Non-retryable errors are wrapped in backoff.Permanent so the
// first attempt's failure surfaces immediately.
func withRetry[T any](ctx context.Context, cfg retryConfig, fn func() (T, error)) (T, error) {
	predicate := cfg.predicate()

	op := func() (T, error) {
		result, err := fn()
		if err != nil && !predicate(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.maxTries()),
	)
}
