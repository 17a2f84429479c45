package batcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"telegram-fleet/internal/domain/batcher"
)

func TestBatcherDebounceFlush(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var flushes []batcher.Flush

	b := batcher.New(30*time.Millisecond, 500*time.Millisecond, func(f batcher.Flush) {
		mu.Lock()
		flushes = append(flushes, f)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	key := batcher.Key{AccountID: "acc1", UserID: 42}
	b.Add(key, "привет", 1)
	time.Sleep(10 * time.Millisecond)
	b.Add(key, "как дела?", 2)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushes) != 1 {
		t.Fatalf("got %d flushes, want 1", len(flushes))
	}
	if len(flushes[0].Texts) != 2 {
		t.Fatalf("got %d texts, want 2: %v", len(flushes[0].Texts), flushes[0].Texts)
	}
}

func TestBatcherHardCeiling(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var flushes []batcher.Flush

	b := batcher.New(40*time.Millisecond, 60*time.Millisecond, func(f batcher.Flush) {
		mu.Lock()
		flushes = append(flushes, f)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	key := batcher.Key{AccountID: "acc1", UserID: 7}
	start := time.Now()
	// постоянно "печатаем", не давая дебаунсу сработать — потолок должен
	// всё равно форсировать сброс раньше, чем закончится опрос.
	deadline := start.Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		b.Add(key, "x", 0)
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	n := len(flushes)
	mu.Unlock()
	if n == 0 {
		t.Fatal("hard ceiling never forced a flush despite continued typing")
	}
}
