package provider

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a temporary provider failure is retried.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	BaseDelay   time.Duration
	MaxInterval time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 10 * time.Second
	}
	return p
}

// Retry runs fn until it succeeds, returns a non-temporary error, the policy's
// attempts are exhausted or ctx is done. Waits grow exponentially; a provider
// Retry-After hint longer than the computed wait is honoured. onRetry, if
// non-nil, is called before each wait.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error, onRetry func(attempt int, err error, wait time.Duration)) error {
	policy = policy.withDefaults()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.BaseDelay
	exp.Multiplier = 2
	exp.MaxInterval = policy.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTemporary(err) || attempt >= policy.MaxAttempts {
			return err
		}

		wait := exp.NextBackOff()
		var pe *Error
		if errors.As(err, &pe) && pe.RetryAfter > wait {
			wait = pe.RetryAfter
		}
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
