package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"telegram-fleet/internal/infra/lifecycle"
)

// recorder фиксирует порядок start/stop событий по имени узла.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func register(t *testing.T, m *lifecycle.Manager, rec *recorder, name string) {
	t.Helper()
	err := m.Register(name,
		func(context.Context) error { rec.add("start:" + name); return nil },
		func(context.Context) error { rec.add("stop:" + name); return nil },
	)
	if err != nil {
		t.Fatalf("Register(%s) error: %v", name, err)
	}
}

func TestStartOrderAndReverseShutdown(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := lifecycle.New(context.Background())
	register(t, m, rec, "a")
	register(t, m, rec, "b")
	register(t, m, rec, "c")

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())
	if err := m.Register("dup", nil, nil); err != nil {
		t.Fatalf("first Register() error: %v", err)
	}
	if err := m.Register("dup", nil, nil); err == nil {
		t.Fatal("second Register() with same name succeeded, want error")
	}
}

func TestStartFailureRollsBackStartedNodes(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := lifecycle.New(context.Background())
	register(t, m, rec, "ok")

	boom := errors.New("boom")
	if err := m.Register("broken",
		func(context.Context) error { return boom },
		func(context.Context) error { rec.add("stop:broken"); return nil },
	); err != nil {
		t.Fatalf("Register(broken) error: %v", err)
	}
	register(t, m, rec, "never")

	err := m.StartAll()
	if !errors.Is(err, boom) {
		t.Fatalf("StartAll() error = %v, want to wrap boom", err)
	}

	got := rec.snapshot()
	// "ok" поднялся и был погашен откатом; "never" не стартовал вовсе,
	// stop отказавшего узла не вызывается.
	want := []string{"start:ok", "stop:ok"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestNodeContextCancelledBeforeStop(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())
	var nodeCtx context.Context
	cancelled := false

	err := m.Register("watcher",
		func(ctx context.Context) error { nodeCtx = ctx; return nil },
		func(context.Context) error {
			cancelled = nodeCtx.Err() != nil
			return nil
		},
	)
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	if nodeCtx.Err() != nil {
		t.Fatal("node context cancelled right after start")
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if !cancelled {
		t.Fatal("stop hook observed a live context; cancel must come first")
	}
}

func TestShutdownCollectsStopErrors(t *testing.T) {
	t.Parallel()

	m := lifecycle.New(context.Background())
	stopErr := errors.New("refuses to die")
	if err := m.Register("stubborn", nil, func(context.Context) error { return stopErr }); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	if err := m.Shutdown(); !errors.Is(err, stopErr) {
		t.Fatalf("Shutdown() error = %v, want to wrap stop error", err)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	m := lifecycle.New(context.Background())
	register(t, m, rec, "once")

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}

	stops := 0
	for _, e := range rec.snapshot() {
		if e == "stop:once" {
			stops++
		}
	}
	if stops != 1 {
		t.Fatalf("stop hook ran %d times, want 1", stops)
	}
}
