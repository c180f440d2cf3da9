package utils

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	defer goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func TestWaitFor(t *testing.T) {
	originalTimer := newTimer
	defer func() { newTimer = originalTimer }()

	var waited time.Duration
	newTimer = func(d time.Duration) (<-chan time.Time, func() bool) {
		waited = d
		fired := make(chan time.Time, 1)
		fired <- time.Time{}
		return fired, func() bool { return false }
	}

	if err := WaitFor(context.Background(), 3*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 3*time.Second {
		t.Fatalf("expected a 3s timer, got %s", waited)
	}

	waited = 0
	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if waited != 0 {
		t.Fatalf("expected no timer for zero duration, got %s", waited)
	}
}

func TestWaitForCancelledStopsTimer(t *testing.T) {
	originalTimer := newTimer
	defer func() { newTimer = originalTimer }()

	stopped := false
	newTimer = func(time.Duration) (<-chan time.Time, func() bool) {
		return make(chan time.Time), func() bool {
			stopped = true
			return true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !stopped {
		t.Fatalf("expected the timer to be stopped on cancellation")
	}
	if err := WaitFor(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled for zero wait, got %v", err)
	}
}

func TestWaitForRealTimerCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("expected WaitFor to return on cancellation, took %s", elapsed)
	}
}

func recordingRetrier(attempts int, waits *[]time.Duration, retried *[]int) Retrier {
	return Retrier{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		OnRetry:     func(attempt int, _ error) { *retried = append(*retried, attempt) },
		Wait: func(_ context.Context, d time.Duration) error {
			*waits = append(*waits, d)
			return nil
		},
	}
}

func TestRetrierSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	var retried []int
	r := recordingRetrier(5, &waits, &retried)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("rate limited")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits: %v", waits)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Fatalf("unexpected retry callbacks: %v", retried)
	}
}

func TestRetrierGivesUp(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	var retried []int
	r := recordingRetrier(3, &waits, &retried)

	boom := errors.New("boom")
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if calls != 3 || len(waits) != 2 {
		t.Fatalf("expected 3 calls and 2 waits, got %d and %d", calls, len(waits))
	}
}

func TestRetrierStopsOnCancelledWait(t *testing.T) {
	t.Parallel()

	r := Retrier{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Wait: func(context.Context, time.Duration) error {
			return context.Canceled
		},
	}

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("unavailable")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetrierZeroAttemptsStillCalls(t *testing.T) {
	t.Parallel()

	calls := 0
	if err := (Retrier{}).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}
