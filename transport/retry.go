package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetryExhausted marks a terminal ask failure after the full retry
// budget was spent. Match with errors.Is; the concrete
// *RetryExhaustedError carries the endpoint and attempt count.
var ErrRetryExhausted = errors.New("retry budget exhausted")

// RetryPolicy bounds the ask loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of sends, including the first.
	// Must be >= 1.
	MaxAttempts int
	// AttemptTimeout is the per-attempt reply wait.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy matches the assignment protocol default of 10
// attempts with a 5 second reply wait each.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    10,
		AttemptTimeout: 5 * time.Second,
	}
}

// RetryExhaustedError is returned by AskWithRetry once every attempt
// has failed. It wraps the last transport error.
type RetryExhaustedError struct {
	Endpoint Endpoint
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("ask %q failed after %d attempts: %v", e.Endpoint, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Is lets errors.Is(err, ErrRetryExhausted) match.
func (e *RetryExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// AskWithRetry sends a request and awaits a reply, resending on timeout
// or transport failure up to policy.MaxAttempts total attempts. It
// performs no idempotence checking of its own: a receiver may observe
// an attempt more than once when an earlier reply was lost in transit.
//
// The first successful reply wins. Once the budget is exhausted the
// terminal *RetryExhaustedError is returned; context cancellation
// aborts between attempts with the context error.
func AskWithRetry(ctx context.Context, r Requester, to Endpoint, payload []byte, policy RetryPolicy) ([]byte, error) {
	if policy.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry policy: max attempts must be >= 1, got %d", policy.MaxAttempts)
	}
	if policy.AttemptTimeout <= 0 {
		policy.AttemptTimeout = DefaultRetryPolicy().AttemptTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ask %q aborted on attempt %d: %w", to, attempt, err)
		}

		reply, err := r.Request(ctx, to, payload, policy.AttemptTimeout)
		if err == nil {
			return reply, nil
		}
		lastErr = err
	}

	return nil, &RetryExhaustedError{Endpoint: to, Attempts: policy.MaxAttempts, Last: lastErr}
}
