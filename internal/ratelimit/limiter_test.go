package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"gamevault/internal/ratelimit"
)

func TestLimiter_MinimumGap(t *testing.T) {
	t.Parallel()

	base := 50 * time.Millisecond
	l := ratelimit.NewLimiter(base)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		stamps = append(stamps, time.Now())
	}

	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// Allow a little scheduler slack below the nominal gap.
		if gap < base-10*time.Millisecond {
			t.Errorf("gap %d = %v, want >= %v", i, gap, base)
		}
	}
}

func TestLimiter_PenalizeAndReward(t *testing.T) {
	t.Parallel()

	base := 1000 * time.Millisecond
	l := ratelimit.NewLimiter(base)

	l.Penalize()
	if got := l.Interval(); got != 2*time.Second {
		t.Errorf("after one penalty interval = %v, want 2s", got)
	}

	// Inflation caps at 60s.
	for i := 0; i < 10; i++ {
		l.Penalize()
	}
	if got := l.Interval(); got != 60*time.Second {
		t.Errorf("interval cap = %v, want 60s", got)
	}

	// Successes decay halve-wise back toward the base, never below it.
	for i := 0; i < 20; i++ {
		l.Reward()
	}
	if got := l.Interval(); got != base {
		t.Errorf("after decay interval = %v, want %v", got, base)
	}
}

func TestLimiter_CancelWakesWaiter(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(10 * time.Second)
	ctx := context.Background()

	// Burn the free first slot so the next caller must wait.
	if err := l.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- l.Acquire(waitCtx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != context.Canceled {
			t.Errorf("Acquire() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not wake promptly")
	}
}

func TestLimiter_ConcurrentWaitersAllProceed(t *testing.T) {
	t.Parallel()

	l := ratelimit.NewLimiter(5 * time.Millisecond)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
		}
	}
}
