// SPDX-License-Identifier: Apache-2.0
package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	kerrors "github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
	"pgregory.net/rapid"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// windowViolation returns the first index i where more than rpm admissions
// fall inside [times[i], times[i]+window), or -1.
func windowViolation(times []time.Time, rpm int, window time.Duration) int {
	sorted := append([]time.Time(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for i := 0; i+rpm < len(sorted); i++ {
		if sorted[i+rpm].Sub(sorted[i]) < window {
			return i
		}
	}
	return -1
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		rpm     int
		wantNil bool
		wantErr bool
	}{
		{"unlimited", 0, true, false},
		{"negative", -1, true, true},
		{"limited", 20, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.rpm)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if tt.wantErr && !kerrors.IsConfigError(err) {
				t.Fatalf("expected config error, got %v", err)
			}
			if (l == nil) != tt.wantNil {
				t.Fatalf("unexpected limiter %v", l)
			}
		})
	}
}

func TestNilLimiterAdmitsImmediately(t *testing.T) {
	var l *Limiter
	for i := 0; i < 1000; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("nil limiter returned %v", err)
		}
	}
	if l.MaxRPM() != 0 {
		t.Fatalf("expected unlimited")
	}
}

func TestBurstOfHundredAtTwentyRPM(t *testing.T) {
	clock := NewFakeClock(epoch)
	var admitted []time.Time
	l, err := New(20, WithClock(clock), WithOnAdmit(func(at time.Time) {
		admitted = append(admitted, at)
	}))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	if len(admitted) != 100 {
		t.Fatalf("expected 100 admissions, got %d", len(admitted))
	}
	if i := windowViolation(admitted, 20, time.Minute); i >= 0 {
		t.Fatalf("more than 20 calls in the minute starting at %v", admitted[i])
	}
	// Batches of 20 are admitted at 0m, 1m, 2m, 3m and 4m.
	if got := clock.Now().Sub(epoch); got != 4*time.Minute {
		t.Fatalf("expected 4m elapsed, got %v", got)
	}
	n, waited := l.Stats()
	if n != 100 || waited <= 0 {
		t.Fatalf("unexpected stats %d %v", n, waited)
	}
}

func TestWaitCeiling(t *testing.T) {
	clock := NewFakeClock(epoch)
	l, _ := New(1, WithClock(clock), WithMaxWait(10*time.Second))

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := clock.Now()
	err := l.Wait(context.Background())
	if !errors.Is(err, kerrors.ErrRateLimitTimeout) {
		t.Fatalf("expected rate limit timeout, got %v", err)
	}
	if !kerrors.IsRecoverable(err) {
		t.Fatalf("rate limit timeout should be recoverable")
	}
	if !clock.Now().Equal(before) {
		t.Fatalf("caller should fail fast instead of sleeping")
	}
}

func TestWaitCancelled(t *testing.T) {
	l, _ := New(1, WithWindow(time.Hour), WithMaxWait(2*time.Hour))
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentCallersRespectWindow(t *testing.T) {
	const rpm = 5
	window := 80 * time.Millisecond

	var mu sync.Mutex
	var admitted []time.Time
	l, _ := New(rpm, WithWindow(window), WithOnAdmit(func(at time.Time) {
		mu.Lock()
		admitted = append(admitted, at)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(context.Background()); err != nil {
				t.Errorf("wait: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(admitted) != 15 {
		t.Fatalf("expected 15 admissions, got %d", len(admitted))
	}
	if i := windowViolation(admitted, rpm, window); i >= 0 {
		t.Fatalf("window exceeded at index %d", i)
	}
}

func TestWindowInvariantProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		rpm := rapid.IntRange(1, 30).Draw(rt, "rpm")
		calls := rapid.IntRange(1, 150).Draw(rt, "calls")

		clock := NewFakeClock(epoch)
		var admitted []time.Time
		l, err := New(rpm, WithClock(clock), WithOnAdmit(func(at time.Time) {
			admitted = append(admitted, at)
		}))
		if err != nil {
			rt.Fatal(err)
		}

		for i := 0; i < calls; i++ {
			gap := rapid.Int64Range(0, int64(20*time.Second)).Draw(rt, "gap")
			clock.Advance(time.Duration(gap))
			if err := l.Wait(context.Background()); err != nil {
				rt.Fatalf("call %d: %v", i, err)
			}
		}

		if len(admitted) != calls {
			rt.Fatalf("expected %d admissions, got %d", calls, len(admitted))
		}
		if i := windowViolation(admitted, rpm, time.Minute); i >= 0 {
			rt.Fatalf("more than %d admissions in the window starting at index %d", rpm, i)
		}
	})
}
