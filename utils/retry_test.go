package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{1, 0, time.Second},
		{2, 0, 2 * time.Second},
		{3, 0, 4 * time.Second},
		{0, 0, time.Second},
		{6, 10 * time.Second, 10 * time.Second},
	}
	for _, tt := range tests {
		got := Backoff(time.Second, tt.attempt, tt.max)
		if got != tt.want {
			t.Errorf("Backoff(1s, %d, %v) = %v; want %v", tt.attempt, tt.max, got, tt.want)
		}
	}
}

func TestRetryDoSucceedsEventually(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, Logger: NewDiscardLogger()}
	calls := 0
	err := r.Do(context.Background(), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d; want 3", calls)
	}
}

func TestRetryDoGivesUp(t *testing.T) {
	r := &RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, Logger: NewDiscardLogger()}
	sentinel := errors.New("down")
	err := r.Do(context.Background(), "ping", func() error { return sentinel })
	if !errors.Is(err, sentinel) {
		t.Errorf("Do error = %v; want wrapped %v", err, sentinel)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Error("Sleep on a canceled context should return an error")
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep did not return promptly after cancel")
	}
}
