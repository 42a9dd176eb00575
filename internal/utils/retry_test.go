package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	calls := 0
	p := RetryPolicy{MaxAttempts: 5, Backoff: func(int) time.Duration { return time.Millisecond }}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyGivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("down")
	p := RetryPolicy{MaxAttempts: 2}
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 2 {
		t.Fatalf("expected 2 calls ending in boom, got %d calls and %v", calls, err)
	}
}

func TestRetryPolicyRespectsRetryable(t *testing.T) {
	permanent := errors.New("missing")
	calls := 0
	p := RetryPolicy{MaxAttempts: 4, Retryable: func(err error) bool { return !errors.Is(err, permanent) }}
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if calls != 1 {
		t.Fatalf("expected no retry for permanent error, got %d calls", calls)
	}
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, Backoff: func(int) time.Duration { return time.Hour }}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return errors.New("transient") })
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("retry did not stop on cancellation")
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(100*time.Millisecond, time.Second)
	if b(1) != 100*time.Millisecond || b(2) != 200*time.Millisecond || b(3) != 400*time.Millisecond {
		t.Fatalf("unexpected progression %v %v %v", b(1), b(2), b(3))
	}
	if b(10) != time.Second {
		t.Fatalf("expected cap, got %v", b(10))
	}
}

func TestExponentialBackoffLimitBelowBase(t *testing.T) {
	b := ExponentialBackoff(2*time.Second, time.Second)
	if b(1) != time.Second {
		t.Fatalf("expected limit to win, got %v", b(1))
	}
}
