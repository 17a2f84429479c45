package manager

import (
	"context"
	"sync"
	"time"
)

// registerJobs wires every periodic job as an independent
// lifecycle.Manager node: each node's StartFunc spawns a ticker goroutine
// that calls the job function on every tick until the node's context is
// cancelled, and its StopFunc waits for that goroutine to exit. Five
// tickers, one registrar.
func (m *Manager) registerJobs() error {
	jobs := []struct {
		name     string
		interval time.Duration
		fn       func(ctx context.Context)
	}{
		{"distribute-targets", m.p.DistributeInterval, m.distributeTargets},
		{"health-check", m.p.HealthCheckInterval, m.healthCheck},
		{"sync-with-db", m.p.DBSyncInterval, m.syncWithDB},
		{"hourly-counter-reset", hourlyResetInterval, m.resetHourlyCounters},
		{"daily-counter-reset", dailyResetInterval, m.resetDailyCounters},
	}

	for _, j := range jobs {
		if err := m.registerTicker(j.name, j.interval, j.fn); err != nil {
			return err
		}
	}

	if m.p.ProxyChecker != nil {
		interval := m.p.ProxyCheckInterval
		if interval <= 0 {
			interval = time.Minute
		}
		var wg sync.WaitGroup
		start := func(ctx context.Context) error {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.p.ProxyChecker.Run(ctx, interval)
			}()
			return nil
		}
		stop := func(context.Context) error {
			wg.Wait()
			return nil
		}
		if err := m.lc.Register("proxy-health-sweep", start, stop); err != nil {
			return err
		}
	}
	return nil
}

// registerTicker registers a single ticker-driven lifecycle node under name,
// firing fn every interval starting after the first tick (no run-on-start:
// the manager already ran an initial distribute/bootstrap pass explicitly
// before registerJobs is called).
func (m *Manager) registerTicker(name string, interval time.Duration, fn func(ctx context.Context)) error {
	var wg sync.WaitGroup

	start := func(ctx context.Context) error {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		}()
		return nil
	}
	stop := func(context.Context) error {
		wg.Wait()
		return nil
	}

	return m.lc.Register(name, start, stop)
}
