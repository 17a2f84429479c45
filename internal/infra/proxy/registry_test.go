package proxy_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/proxy"
)

// fakeProxyRepo — память вместо postgres, ровно под интерфейс ProxyRepository.
type fakeProxyRepo struct {
	proxies map[uuid.UUID]*account.Proxy
}

func newFakeProxyRepo(proxies ...*account.Proxy) *fakeProxyRepo {
	r := &fakeProxyRepo{proxies: make(map[uuid.UUID]*account.Proxy)}
	for _, p := range proxies {
		r.proxies[p.ID] = p
	}
	return r
}

func (r *fakeProxyRepo) Get(_ context.Context, id uuid.UUID) (*account.Proxy, error) {
	p, ok := r.proxies[id]
	if !ok {
		return nil, proxy.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProxyRepo) ListUsable(_ context.Context) ([]*account.Proxy, error) {
	result := make([]*account.Proxy, 0, len(r.proxies))
	for _, p := range r.proxies {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}

func (r *fakeProxyRepo) Save(_ context.Context, p *account.Proxy) error {
	cp := *p
	r.proxies[p.ID] = &cp
	return nil
}

func testProxy(status account.ProxyStatus) *account.Proxy {
	return &account.Proxy{
		ID:     uuid.New(),
		Kind:   account.ProxyKindSOCKS5,
		Host:   "127.0.0.1",
		Port:   1080,
		Status: status,
	}
}

func newRegistry(t *testing.T, proxies ...*account.Proxy) *proxy.Registry {
	t.Helper()
	r, err := proxy.New(filepath.Join(t.TempDir(), "registry.db"), newFakeProxyRepo(proxies...))
	if err != nil {
		t.Fatalf("proxy.New() error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return r
}

func TestMarkFailedThreeTimesMakesUnavailable(t *testing.T) {
	t.Parallel()

	p := testProxy(account.ProxyStatusActive)
	r := newRegistry(t, p)

	for range 2 {
		r.MarkFailed(p.ID)
	}
	got, err := r.Get(p.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != account.ProxyStatusActive {
		t.Fatalf("status after 2 failures = %s, want active", got.Status)
	}

	r.MarkFailed(p.ID)
	got, _ = r.Get(p.ID)
	if got.Status != account.ProxyStatusUnavailable {
		t.Fatalf("status after 3 failures = %s, want unavailable", got.Status)
	}
	if got.FailureCount != 3 {
		t.Fatalf("FailureCount = %d, want 3", got.FailureCount)
	}
}

func TestMarkActiveResetsFailures(t *testing.T) {
	t.Parallel()

	p := testProxy(account.ProxyStatusUnavailable)
	p.FailureCount = 3
	r := newRegistry(t, p)

	r.MarkActive(p.ID, 200*time.Millisecond)
	got, _ := r.Get(p.ID)
	if got.Status != account.ProxyStatusActive {
		t.Fatalf("status = %s, want active", got.Status)
	}
	if got.FailureCount != 0 {
		t.Fatalf("FailureCount = %d, want 0", got.FailureCount)
	}
	if got.LastLatency != 200*time.Millisecond {
		t.Fatalf("LastLatency = %v, want 200ms", got.LastLatency)
	}
}

func TestMarkActiveHighLatencyMeansSlow(t *testing.T) {
	t.Parallel()

	p := testProxy(account.ProxyStatusActive)
	r := newRegistry(t, p)

	r.MarkActive(p.ID, 5*time.Second)
	got, _ := r.Get(p.ID)
	if got.Status != account.ProxyStatusSlow {
		t.Fatalf("status = %s, want slow", got.Status)
	}
}

func TestAssignNextExclusivity(t *testing.T) {
	t.Parallel()

	p1 := testProxy(account.ProxyStatusActive)
	r := newRegistry(t, p1)
	ctx := context.Background()

	accA, accB := uuid.New(), uuid.New()

	got, err := r.AssignNext(ctx, accA, nil)
	if err != nil {
		t.Fatalf("AssignNext() error: %v", err)
	}
	if got.ID != p1.ID {
		t.Fatalf("AssignNext() = %s, want %s", got.ID, p1.ID)
	}
	if !r.IsAssigned(p1.ID) {
		t.Fatal("IsAssigned() = false after assignment")
	}

	// Единственный прокси уже закреплён за другим аккаунтом.
	if _, err := r.AssignNext(ctx, accB, nil); err == nil {
		t.Fatal("AssignNext() for second account succeeded, want ErrNoneAvailable")
	}

	r.Release(p1.ID)
	if _, err := r.AssignNext(ctx, accB, nil); err != nil {
		t.Fatalf("AssignNext() after Release error: %v", err)
	}
}

func TestAssignNextRespectsExclude(t *testing.T) {
	t.Parallel()

	p1 := testProxy(account.ProxyStatusActive)
	p2 := testProxy(account.ProxyStatusActive)
	r := newRegistry(t, p1, p2)

	exclude := map[uuid.UUID]bool{p1.ID: true}
	got, err := r.AssignNext(context.Background(), uuid.New(), exclude)
	if err != nil {
		t.Fatalf("AssignNext() error: %v", err)
	}
	if got.ID != p2.ID {
		t.Fatalf("AssignNext() = %s, want non-excluded %s", got.ID, p2.ID)
	}
}

func TestAssignNextSkipsUnusable(t *testing.T) {
	t.Parallel()

	dead := testProxy(account.ProxyStatusUnavailable)
	banned := testProxy(account.ProxyStatusBanned)
	fresh := testProxy(account.ProxyStatusUnknown)
	r := newRegistry(t, dead, banned, fresh)

	got, err := r.AssignNext(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("AssignNext() error: %v", err)
	}
	if got.ID != fresh.ID {
		t.Fatalf("AssignNext() = %s, want unknown-status proxy %s", got.ID, fresh.ID)
	}
}

func TestGetForAccount(t *testing.T) {
	t.Parallel()

	p := testProxy(account.ProxyStatusActive)
	r := newRegistry(t, p)
	acc := uuid.New()

	if _, ok := r.GetForAccount(acc); ok {
		t.Fatal("GetForAccount() found assignment before AssignNext")
	}
	if _, err := r.AssignNext(context.Background(), acc, nil); err != nil {
		t.Fatalf("AssignNext() error: %v", err)
	}
	got, ok := r.GetForAccount(acc)
	if !ok || got.ID != p.ID {
		t.Fatalf("GetForAccount() = %v, %v; want %s", got, ok, p.ID)
	}
}

func TestListAvailableFiltersAssigned(t *testing.T) {
	t.Parallel()

	p1 := testProxy(account.ProxyStatusActive)
	p2 := testProxy(account.ProxyStatusSlow)
	r := newRegistry(t, p1, p2)

	if got := r.ListAvailable(0); len(got) != 2 {
		t.Fatalf("ListAvailable() = %d proxies, want 2", len(got))
	}
	if _, err := r.AssignNext(context.Background(), uuid.New(), nil); err != nil {
		t.Fatalf("AssignNext() error: %v", err)
	}
	if got := r.ListAvailable(0); len(got) != 1 {
		t.Fatalf("ListAvailable() after assignment = %d proxies, want 1", len(got))
	}
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	t.Parallel()

	p := testProxy(account.ProxyStatusActive)
	repo := newFakeProxyRepo(p)
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	r1, err := proxy.New(dbPath, repo)
	if err != nil {
		t.Fatalf("proxy.New() error: %v", err)
	}
	if err := r1.Load(ctx); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	r1.MarkFailed(p.ID)
	r1.MarkFailed(p.ID)
	r1.MarkFailed(p.ID)
	if err := r1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	// Репозиторий по-прежнему отдаёт active; снимок bbolt должен накрыть его
	// более свежим unavailable.
	r2, err := proxy.New(dbPath, repo)
	if err != nil {
		t.Fatalf("reopen proxy.New() error: %v", err)
	}
	defer r2.Close()
	if err := r2.Load(ctx); err != nil {
		t.Fatalf("reopen Load() error: %v", err)
	}
	got, err := r2.Get(p.ID)
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if got.Status != account.ProxyStatusUnavailable || got.FailureCount != 3 {
		t.Fatalf("after reopen status=%s failures=%d, want unavailable/3", got.Status, got.FailureCount)
	}
}
