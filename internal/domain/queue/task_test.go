package queue_test

import (
	"testing"
	"time"

	"telegram-fleet/internal/domain/queue"
)

func TestRetryBackoff(t *testing.T) {
	t.Parallel()

	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 10 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{4, 160 * time.Second},
		{5, 300 * time.Second}, // 320 упирается в потолок
		{10, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := queue.RetryBackoff(tc.retryCount); got != tc.want {
			t.Errorf("RetryBackoff(%d) = %v, want %v", tc.retryCount, got, tc.want)
		}
	}
}

func TestCanRetry(t *testing.T) {
	t.Parallel()

	task := &queue.Task{MaxRetries: queue.DefaultMaxRetries}
	for i := 0; i < queue.DefaultMaxRetries; i++ {
		if !task.CanRetry() {
			t.Fatalf("CanRetry() = false at retry %d, want true", i)
		}
		task.RetryCount++
	}
	if task.CanRetry() {
		t.Fatalf("CanRetry() = true after %d retries, want false", task.RetryCount)
	}
}
