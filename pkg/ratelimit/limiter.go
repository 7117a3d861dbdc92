// SPDX-License-Identifier: Apache-2.0

// Package ratelimit bounds outbound LLM and tool calls to a maximum number
// per trailing minute. A Limiter is shared by every agent of one kickoff.
//
// Admission uses a log of recent admission timestamps: a call is admitted
// only when fewer than max_rpm admissions fall inside the trailing window.
// Waiters pass through a single-slot turnstile, so they are served in
// arrival order.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

const (
	// DefaultWindow is the trailing window max_rpm is measured over.
	DefaultWindow = time.Minute
	// DefaultMaxWait is the ceiling on how long one caller may wait for a slot.
	DefaultMaxWait = 2 * time.Minute
)

// Limiter enforces max_rpm over a sliding window. A nil *Limiter admits
// every call immediately.
type Limiter struct {
	rpm     int
	window  time.Duration
	maxWait time.Duration
	clock   Clock
	onAdmit func(time.Time)

	turn chan struct{}

	mu       sync.Mutex
	log      []time.Time
	admitted int64
	waited   time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithWindow overrides the trailing window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithMaxWait sets the wait ceiling. Zero keeps the default.
func WithMaxWait(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.maxWait = d
		}
	}
}

// WithOnAdmit registers a callback invoked with each admission time.
func WithOnAdmit(fn func(time.Time)) Option {
	return func(l *Limiter) { l.onAdmit = fn }
}

// New returns a limiter for maxRPM calls per window.
// maxRPM == 0 disables limiting and returns a nil limiter.
func New(maxRPM int, opts ...Option) (*Limiter, error) {
	if maxRPM < 0 {
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("max_rpm must be >= 0, got %d", maxRPM), nil).
			WithContext("max_rpm", maxRPM)
	}
	if maxRPM == 0 {
		return nil, nil
	}
	l := &Limiter{
		rpm:     maxRPM,
		window:  DefaultWindow,
		maxWait: DefaultMaxWait,
		clock:   realClock{},
		turn:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Wait blocks until the caller may issue one call. It fails with
// RATE_LIMIT_TIMEOUT when the slot would open after the wait ceiling, and
// returns ctx.Err() on cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := l.clock.Now()
	deadline := start.Add(l.maxWait)

	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-l.turn }()

	for {
		now := l.clock.Now()
		wait, ok := l.tryAdmit(now, start)
		if ok {
			return nil
		}
		if now.Add(wait).After(deadline) {
			return errors.New(errors.CodeRateLimitTimeout, "rate limit wait exceeds ceiling", nil).
				WithContext("max_rpm", l.rpm).
				WithContext("required_wait", wait.String()).
				WithContext("max_wait", l.maxWait.String()).
				WithRecoverable(true)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// acquire takes the turnstile. Blocked senders on a channel are queued in
// arrival order.
func (l *Limiter) acquire(ctx context.Context) error {
	select {
	case l.turn <- struct{}{}:
		return nil
	default:
	}
	select {
	case l.turn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAdmit prunes expired entries and either records an admission at now or
// reports how long until the oldest entry leaves the window.
func (l *Limiter) tryAdmit(now, start time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.log) && !l.log[i].After(cutoff) {
		i++
	}
	l.log = l.log[i:]

	if len(l.log) < l.rpm {
		l.log = append(l.log, now)
		l.admitted++
		l.waited += now.Sub(start)
		if l.onAdmit != nil {
			l.onAdmit(now)
		}
		return 0, true
	}
	return l.log[0].Add(l.window).Sub(now), false
}

// Stats reports admissions so far and the cumulative time spent waiting.
func (l *Limiter) Stats() (admitted int64, waited time.Duration) {
	if l == nil {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.admitted, l.waited
}

// MaxRPM returns the configured limit, or 0 for an unlimited limiter.
func (l *Limiter) MaxRPM() int {
	if l == nil {
		return 0
	}
	return l.rpm
}
