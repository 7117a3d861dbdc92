// SPDX-License-Identifier: Apache-2.0
// Package resilience bounds LLM and tool calls with retries and timeouts.
package resilience

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// RetryConfig is an exponential backoff policy. The zero value makes a
// single attempt.
type RetryConfig struct {
	// MaxAttempts counts the first call; values below 1 mean one attempt.
	MaxAttempts  int
	InitialDelay time.Duration
	// MaxDelay caps a single wait; zero leaves it uncapped.
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter spreads each wait by this fraction in both directions.
	Jitter float64

	// IsRecoverable decides whether an error earns another attempt. When nil,
	// typed errors follow their Recoverable flag and untyped ones are retried.
	IsRecoverable func(error) bool
	// OnRetry runs before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig makes 3 attempts, waiting 100ms then doubling up to 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2,
		Jitter:        0.1,
		IsRecoverable: retryableByDefault,
	}
}

func (rc RetryConfig) WithMaxAttempts(n int) RetryConfig {
	rc.MaxAttempts = n
	return rc
}

func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do runs fn under the policy and returns the last error once attempts run out.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) error {
	_, err := Retry(ctx, rc, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Retry runs fn under rc and returns its value. A non-recoverable error stops
// at once and is returned as is. Cancellation between attempts yields a
// CANCELLED error wrapping ctx.Err().
func Retry[T any](ctx context.Context, rc RetryConfig, fn func() (T, error)) (T, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = retryableByDefault
	}

	var (
		attempt int
		last    error
		stopped bool
	)
	op := func() (T, error) {
		attempt++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		last = err
		if !rc.IsRecoverable(err) {
			stopped = true
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(rc.exponential()),
		backoff.WithMaxTries(uint(rc.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(error, time.Duration) {
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, last)
			}
		}),
	)
	switch {
	case err == nil:
		return v, nil
	case stopped:
		return v, last
	case ctx.Err() != nil && attempt < rc.MaxAttempts:
		cancelled := errors.New(errors.CodeCancelled, "context canceled during retry", ctx.Err()).
			WithContext("attempt", attempt).
			WithContext("max_attempts", rc.MaxAttempts)
		if last != nil {
			cancelled.WithContext("last_error", last.Error())
		}
		return v, cancelled
	}
	return v, last
}

// Backoff returns the wait before the given retry (1-based):
// InitialDelay * Multiplier^(retry-1), capped at MaxDelay, then jittered.
func Backoff(retry int, rc RetryConfig) time.Duration {
	b := rc.exponential()
	var d time.Duration
	for i := 0; i < max(retry, 1); i++ {
		d = b.NextBackOff()
	}
	return d
}

func (rc RetryConfig) exponential() *backoff.ExponentialBackOff {
	mult := rc.Multiplier
	if mult == 0 {
		mult = 2
	}
	ceiling := rc.MaxDelay
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     rc.InitialDelay,
		RandomizationFactor: rc.Jitter,
		Multiplier:          mult,
		MaxInterval:         ceiling,
	}
}

// retryableByDefault retries untyped errors and follows the flag on typed ones.
func retryableByDefault(err error) bool {
	if err == nil {
		return false
	}
	if errors.CodeOf(err) == errors.CodeInternal {
		return true
	}
	return errors.IsRecoverable(err)
}
