// Package retry wraps blocking transport calls in an exponential backoff
// loop. Only transport failures are retried; any HTTP response, whatever its
// status, ends the loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"pbembed/internal/logging"
)

const (
	DefaultRetries   = 5
	DefaultBaseDelay = time.Second
	// MaxRetries is the largest budget a Policy honours.
	MaxRetries = 30
)

const maxDelay = time.Duration(math.MaxInt64)

// Policy describes the retry budget and the first backoff delay. Each retry
// waits twice as long as the previous one.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
	Logger    *logging.Logger
	// Notify, when set, is called before every backoff wait.
	Notify func(attempt int, err error, next time.Duration)
}

// TransportError is returned once the retry budget is spent without any
// HTTP response.
type TransportError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func DefaultPolicy() Policy {
	return Policy{Retries: DefaultRetries, BaseDelay: DefaultBaseDelay}
}

// IsZero reports whether p sets neither a budget nor a delay. Callers treat a
// zero Policy as DefaultPolicy.
func (p Policy) IsZero() bool { return p.Retries == 0 && p.BaseDelay == 0 }

func (p Policy) normalized() Policy {
	if p.Retries < 0 {
		p.Retries = 0
	}
	if p.Retries > MaxRetries {
		p.Retries = MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Schedule lists the waits inserted before each retry.
func (p Policy) Schedule() []time.Duration {
	p = p.normalized()
	out := make([]time.Duration, 0, p.Retries)
	delay := p.BaseDelay
	for range p.Retries {
		out = append(out, delay)
		delay = double(delay)
	}
	return out
}

// WorstCaseWait is BaseDelay*(2^Retries - 1), saturating at the largest
// Duration.
func (p Policy) WorstCaseWait() time.Duration {
	var total time.Duration
	for _, d := range p.Schedule() {
		if total > maxDelay-d {
			return maxDelay
		}
		total += d
	}
	return total
}

func double(d time.Duration) time.Duration {
	if d > maxDelay/2 {
		return maxDelay
	}
	return d * 2
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	maxInterval := p.BaseDelay
	for range p.Retries {
		maxInterval = double(maxInterval)
	}
	b.MaxInterval = maxInterval
	b.Reset()
	return b
}

// Do runs attempt until it yields an HTTP response or the budget is spent.
// It blocks the caller for the whole backoff schedule; ctx cancellation
// aborts the wait.
func (p Policy) Do(ctx context.Context, op string, attempt func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	p = p.normalized()
	attempts := 0
	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attempts++
		resp, err := attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		return resp, nil
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.Retries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.Logger.Debug("transport call failed, retrying",
				logging.Field("op", op),
				logging.Field("attempt", attempts),
				logging.Field("retries_left", p.Retries+1-attempts),
				logging.Field("next_retry", next.String()),
				logging.Field("error", err),
			)
			if p.Notify != nil {
				p.Notify(attempts, err, next)
			}
		}),
	)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	p.Logger.Warn("transport call failed", logging.Field("op", op), logging.Field("attempts", attempts), logging.Field("error", err))
	return nil, &TransportError{Op: op, Attempts: attempts, Err: err}
}
