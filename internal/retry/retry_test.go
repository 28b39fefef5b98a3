package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	retries := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		func(attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("flaky")
			}
			return nil
		},
		func(error, time.Duration) { retries++ },
	)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Fatalf("calls=%d retries=%d, want 3 and 2", calls, retries)
	}
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		func(int) error { calls++; return boom }, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond},
		func(int) error { calls++; return Permanent(fatal) }, nil)
	if !errors.Is(err, fatal) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Second},
		func(int) error { calls++; return errors.New("x") }, nil)
	if err == nil {
		t.Fatal("expected an error with cancelled context")
	}
	if calls > 1 {
		t.Fatalf("calls = %d, should stop after cancellation", calls)
	}
}
