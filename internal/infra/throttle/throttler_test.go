package throttle_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"telegram-fleet/internal/infra/throttle"
)

// stopErr реализует StopRetryer: ретраи прекращаются немедленно.
type stopErr struct{}

func (stopErr) Error() string   { return "terminal" }
func (stopErr) StopRetry() bool { return true }

func newFast(opts ...throttle.Option) *throttle.Throttler {
	base := []throttle.Option{
		throttle.WithBackoff(time.Millisecond, 5*time.Millisecond),
		throttle.WithRandom(func() float64 { return 0.5 }),
	}
	return throttle.New(1000, append(base, opts...)...)
}

func TestDoSucceedsFirstTry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := newFast().Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := newFast().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestDoMaxRetriesExhausted(t *testing.T) {
	t.Parallel()

	calls := 0
	cause := errors.New("always broken")
	err := newFast(throttle.WithMaxRetries(2)).Do(context.Background(), func() error {
		calls++
		return cause
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after exhausted retries")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("Do() error %v does not wrap the last cause", err)
	}
	// Первая попытка + 2 ретрая.
	if calls != 3 {
		t.Fatalf("fn called %d times, want 3", calls)
	}
}

func TestDoStopRetryerShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	err := newFast().Do(context.Background(), func() error {
		calls++
		return stopErr{}
	})
	var s stopErr
	if !errors.As(err, &s) {
		t.Fatalf("Do() error = %v, want stopErr", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times, want 1 (no retries)", calls)
	}
}

func TestDoWaitExtractorDoesNotBurnRetries(t *testing.T) {
	t.Parallel()

	waitable := errors.New("server says wait")
	extractor := func(err error) (time.Duration, bool) {
		if errors.Is(err, waitable) {
			return time.Millisecond, true
		}
		return 0, false
	}

	calls := 0
	err := newFast(throttle.WithMaxRetries(1), throttle.WithWaitExtractors(extractor)).
		Do(context.Background(), func() error {
			calls++
			if calls < 4 {
				return waitable
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	// Три серверных паузы подряд не исчерпали лимит в 1 ретрай.
	if calls != 4 {
		t.Fatalf("fn called %d times, want 4", calls)
	}
}

func TestDoRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := newFast().Do(ctx, func() error {
		calls++
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times after cancellation, want 1", calls)
	}
}
