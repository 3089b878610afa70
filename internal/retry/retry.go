// Package retry provides a single retryable-operation wrapper shared by the
// tool dispatcher and the LLM backend call site.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy controls attempt count and exponential backoff.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy matches the dispatcher defaults: 3 attempts, 500ms initial
// backoff doubling up to 10s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// Permanent wraps an error to mark it non-retryable regardless of the
// caller's predicate (validation and permission failures).
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// MarkPermanent wraps err so Do stops immediately.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsPermanent reports whether err was marked non-retryable.
func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// Do runs op up to p.MaxAttempts times, backing off exponentially between
// attempts. op receives the 1-based attempt number so callers can record one
// outcome per attempt. Retries stop early when the error is marked permanent,
// when isRetryable (if non-nil) rejects it, or when ctx is done. The last
// attempt's error is returned.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if !sleep(ctx, Backoff(p, attempt)) {
			return err
		}
	}
	return err
}

// Backoff returns the delay before the attempt following the given 1-based
// attempt number: min(initial * 2^(attempt-1), max).
func Backoff(p Policy, attempt int) time.Duration {
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// sleep waits for d or until ctx is done. Reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
