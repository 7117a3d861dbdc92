// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
	stderrors "errors"
	"time"
)

// ErrTimeout reports that a WithTimeout boundary elapsed. Callers turn it
// into the typed timeout of their own layer.
var ErrTimeout = stderrors.New("operation exceeded timeout")

// WithTimeout bounds fn by d. fn runs on its own goroutine so a callee that
// ignores its context cannot hold the caller past the boundary. A zero d
// calls fn directly. When the parent ends first its error is returned as is.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeoutCause(ctx, d, ErrTimeout)
	defer cancel()

	var (
		value T
		err   error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		value, err = fn(bounded)
	}()

	select {
	case <-done:
		if err != nil && expired(ctx, bounded) {
			var zero T
			return zero, ErrTimeout
		}
		return value, err
	case <-bounded.Done():
		var zero T
		if perr := ctx.Err(); perr != nil {
			return zero, perr
		}
		return zero, ErrTimeout
	}
}

// expired reports whether bounded ended through its own deadline.
func expired(parent, bounded context.Context) bool {
	return parent.Err() == nil && stderrors.Is(context.Cause(bounded), ErrTimeout)
}
