package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/infra/taskqueue/inmemory"
)

func newTask(accountID uuid.UUID) *queue.Task {
	return queue.NewTask(queue.TypeSendFirstMessage, accountID, uuid.New(), "@someone")
}

func TestFIFOWithinAccount(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	first := newTask(acc)
	second := newTask(acc)
	third := newTask(acc)
	for _, task := range []*queue.Task{first, second, third} {
		if err := s.Enqueue(ctx, task, false); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	for i, want := range []*queue.Task{first, second, third} {
		got, err := s.Dequeue(ctx, acc, 50*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue() #%d error: %v", i, err)
		}
		if got == nil || got.ID != want.ID {
			t.Fatalf("Dequeue() #%d = %v, want task %s", i, got, want.ID)
		}
	}
}

func TestPriorityJumpsToHead(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	normal := newTask(acc)
	urgent := newTask(acc)
	if err := s.Enqueue(ctx, normal, false); err != nil {
		t.Fatalf("Enqueue(normal) error: %v", err)
	}
	if err := s.Enqueue(ctx, urgent, true); err != nil {
		t.Fatalf("Enqueue(urgent) error: %v", err)
	}

	got, err := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue() error: %v", err)
	}
	if got == nil || got.ID != urgent.ID {
		t.Fatalf("Dequeue() = %v, want priority task %s first", got, urgent.ID)
	}
}

func TestDequeueTimeoutReturnsNil(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	got, err := s.Dequeue(context.Background(), uuid.New(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue() error: %v", err)
	}
	if got != nil {
		t.Fatalf("Dequeue() on empty queue = %v, want nil", got)
	}
}

func TestDequeueUnblocksOnEnqueue(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()
	task := newTask(acc)

	done := make(chan *queue.Task, 1)
	go func() {
		got, _ := s.Dequeue(ctx, acc, 2*time.Second)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Enqueue(ctx, task, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	select {
	case got := <-done:
		if got == nil || got.ID != task.ID {
			t.Fatalf("blocked Dequeue() = %v, want %s", got, task.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock after Enqueue")
	}
}

func TestFailExhaustedGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	task := newTask(acc)
	task.RetryCount = task.MaxRetries // попытки исчерпаны

	if err := s.Enqueue(ctx, task, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	got, err := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if err != nil || got == nil {
		t.Fatalf("Dequeue() = %v, %v", got, err)
	}
	if err := s.Fail(ctx, got, "boom", true); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	stats, err := s.Stats(ctx, acc)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Failed != 1 || stats.DLQSize != 1 {
		t.Fatalf("Stats() = %+v, want failed=1 dlq=1", stats)
	}
	if got.LastError != "boom" {
		t.Fatalf("task.LastError = %q, want %q", got.LastError, "boom")
	}
}

func TestFailNoRetryGoesToDeadLetter(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	task := newTask(acc)
	if err := s.Enqueue(ctx, task, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	got, _ := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if err := s.Fail(ctx, got, "privacy", false); err != nil {
		t.Fatalf("Fail() error: %v", err)
	}

	stats, _ := s.Stats(ctx, acc)
	if stats.DLQSize != 1 {
		t.Fatalf("DLQSize = %d, want 1", stats.DLQSize)
	}
	if next, _ := s.Dequeue(ctx, acc, 20*time.Millisecond); next != nil {
		t.Fatalf("queue should be empty after no-retry fail, got %v", next)
	}
}

func TestRequeuePutsTaskAtHead(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	flooded := newTask(acc)
	waiting := newTask(acc)
	if err := s.Enqueue(ctx, flooded, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := s.Enqueue(ctx, waiting, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	got, _ := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if got.ID != flooded.ID {
		t.Fatalf("first Dequeue() = %s, want %s", got.ID, flooded.ID)
	}
	got.RetryCount++
	if err := s.Requeue(ctx, got); err != nil {
		t.Fatalf("Requeue() error: %v", err)
	}

	// Повторно извлечённой должна оказаться та же задача, раньше waiting.
	again, _ := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if again == nil || again.ID != flooded.ID {
		t.Fatalf("Dequeue() after Requeue = %v, want %s", again, flooded.ID)
	}
	if again.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", again.RetryCount)
	}
}

func TestRecoverProcessingTasks(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	task := newTask(acc)
	if err := s.Enqueue(ctx, task, false); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if _, err := s.Dequeue(ctx, acc, 50*time.Millisecond); err != nil {
		t.Fatalf("Dequeue() error: %v", err)
	}

	// Задача зависла в processing — имитация падения воркера.
	n, err := s.RecoverProcessingTasks(ctx)
	if err != nil {
		t.Fatalf("RecoverProcessingTasks() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d tasks, want 1", n)
	}

	got, _ := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if got == nil || got.ID != task.ID {
		t.Fatalf("Dequeue() after recover = %v, want %s", got, task.ID)
	}

	// Повторный прогон ничего не находит: задача возвращена ровно один раз.
	if err := s.Complete(ctx, got); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	n, _ = s.RecoverProcessingTasks(ctx)
	if n != 0 {
		t.Fatalf("second recover returned %d tasks, want 0", n)
	}
}

func TestStatsCounters(t *testing.T) {
	t.Parallel()

	s := inmemory.New()
	ctx := context.Background()
	acc := uuid.New()

	for range 3 {
		if err := s.Enqueue(ctx, newTask(acc), false); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}
	got, _ := s.Dequeue(ctx, acc, 50*time.Millisecond)
	if err := s.Complete(ctx, got); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	stats, err := s.Stats(ctx, acc)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Enqueued != 3 || stats.Completed != 1 || stats.Failed != 0 {
		t.Fatalf("Stats() = %+v, want enqueued=3 completed=1 failed=0", stats)
	}
}
