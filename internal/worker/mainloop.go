package worker

import (
	"context"
	"errors"
	"time"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/ratelimit"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/telegram"
)

// Main task loop interval bounds: one iteration every U(8,15)s.
const (
	mainLoopIntervalMin = 8 * time.Second
	mainLoopIntervalMax = 15 * time.Second
)

// Idle nap bounds: how long the loop dozes when the account is outside its
// schedule window or inside its simulated sleep window.
const (
	idleNapMin = 5 * time.Minute
	idleNapMax = 15 * time.Minute
)

// runMainLoop is the worker's main task loop: repeatedly refresh state, respect
// the sleep window, run warm-up, and process outreach/follow-ups, until ctx
// is cancelled or a non-transient error ends it.
func (w *Worker) runMainLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.runMainLoopStep(ctx) {
			// Cancel the run context so the background loop exits too and
			// superviseExit can report the worker as no longer running.
			w.mu.Lock()
			cancel := w.cancel
			w.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			return
		}

		interval := jitterBetween(w.p.Rng, mainLoopIntervalMin, mainLoopIntervalMax)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// runMainLoopStep executes one main-loop iteration. It
// returns false when the loop must exit — a non-transient error, or an
// exhausted proxy failover — handing restart duty to internal/manager's
// health check.
func (w *Worker) runMainLoopStep(ctx context.Context) bool {
	acc, err := w.p.AccountRepo.Get(ctx, w.AccountID)
	if err != nil {
		logger.Warnf("worker: account %s snapshot refresh failed: %v", w.AccountID, err)
		return true
	}

	// Two idle gates: the configured schedule window (hours + weekdays in
	// the account's TZ) and the simulated sleep window on top of it.
	snap := snapshotOf(acc)
	now := time.Now()
	if !ratelimit.InScheduleWindow(snap, now) || ratelimit.InSleepWindow(snap, now) {
		nap := jitterBetween(w.p.Rng, idleNapMin, idleNapMax)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(nap):
		}
		return true
	}

	w.maybeRunWarmupCycle(ctx)
	if w.inWarmup() {
		return true
	}

	if !ratelimit.CanSendOutreach(snap, time.Now()) {
		return true
	}

	if err := w.processOutreachTasks(ctx, acc); err != nil {
		return w.handleLoopError(ctx, acc, err)
	}
	if err := w.processDueFollowUps(ctx, acc); err != nil {
		return w.handleLoopError(ctx, acc, err)
	}

	return true
}

// handleLoopError: a transient
// network/timeout error triggers a single proxy failover and the loop keeps
// running; anything else, or a failed failover, ends the loop.
func (w *Worker) handleLoopError(ctx context.Context, acc *account.Account, cause error) bool {
	var netErr *telegram.ErrNetwork
	var timeoutErr *telegram.ErrTimeout
	if !errors.As(cause, &netErr) && !errors.As(cause, &timeoutErr) {
		logger.Warnf("worker: account %s main loop error: %v", w.AccountID, cause)
		return false
	}

	logger.Warnf("worker: account %s transient error, failing over proxy: %v", w.AccountID, cause)
	if w.proxy != nil {
		w.p.ProxyRegistry.MarkFailed(w.proxy.ID)
		w.p.ProxyRegistry.Release(w.proxy.ID)
	}
	if w.client != nil {
		_ = w.client.Close()
	}

	app, err := w.p.AppRepo.Get(ctx, acc.TelegramAppID)
	if err != nil {
		logger.Warnf("worker: account %s failover app lookup failed: %v", w.AccountID, err)
		return false
	}
	client, p, err := w.connect(ctx, acc, app)
	if err != nil {
		logger.Warnf("worker: account %s failover exhausted: %v", w.AccountID, err)
		return false
	}
	w.client = client
	w.proxy = p
	client.OnMessage(w.handleIncoming)
	return true
}

func snapshotOf(acc *account.Account) ratelimit.Snapshot {
	return ratelimit.Snapshot{
		ID:       acc.ID,
		Status:   acc.Status,
		Limits:   acc.Limits,
		Counters: acc.Counters,
		Schedule: acc.Schedule,
	}
}
