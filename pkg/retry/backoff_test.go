package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func alwaysRetriable(error) bool { return true }

func TestBackoff_SucceedsOnFirstAttempt(t *testing.T) {
	b := Backoff{Base: 5 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := b.Run(context.Background(), time.Now().Add(time.Second), alwaysRetriable, func() (bool, error) {
		attempts++
		return true, nil
	})

	if err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestBackoff_RetriesUntilDone(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2}

	attempts := 0
	err := b.Run(context.Background(), time.Now().Add(time.Second), alwaysRetriable, func() (bool, error) {
		attempts++
		if attempts < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	})

	if err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestBackoff_StopsOnNonRetriableError(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: 10 * time.Millisecond, Multiplier: 2}
	wantErr := errors.New("permanent")

	attempts := 0
	err := b.Run(context.Background(), time.Now().Add(time.Second), func(error) bool { return false }, func() (bool, error) {
		attempts++
		return false, wantErr
	})

	if err != wantErr {
		t.Fatalf("Run returned %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on non-retriable error)", attempts)
	}
}

func TestBackoff_StopsAtDeadline(t *testing.T) {
	b := Backoff{Base: 2 * time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
	deadline := time.Now().Add(20 * time.Millisecond)

	attempts := 0
	start := time.Now()
	err := b.Run(context.Background(), deadline, alwaysRetriable, func() (bool, error) {
		attempts++
		return false, errors.New("still full")
	})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected an error once the deadline passed")
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts before deadline, got %d", attempts)
	}
	if elapsed > 200*time.Millisecond {
		t.Errorf("Run took %v, expected it to stop near the deadline", elapsed)
	}
}

func TestBackoff_StopsOnContextCancel(t *testing.T) {
	b := Backoff{Base: 50 * time.Millisecond, Max: 200 * time.Millisecond, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- b.Run(ctx, time.Now().Add(time.Second), alwaysRetriable, func() (bool, error) {
			attempts++
			return false, errors.New("busy")
		})
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
