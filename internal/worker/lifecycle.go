package worker

import (
	"context"
	"fmt"
	"time"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/batcher"
	"telegram-fleet/internal/infra/logger"
)

// residualActivityWindow guards against MTProto auth-key collisions: if the
// account was active less than 30s ago, Start sleeps the residual before
// opening a new connection for it.
const residualActivityWindow = 30 * time.Second

// Start brings the worker's MTProto connection and sub-loops up in order:
// resolve dependencies, connect, register handlers, then spawn every
// sub-loop under the worker's WaitGroup so Stop can tear them all down.
func (w *Worker) Start(ctx context.Context) error {
	acc, err := w.p.AccountRepo.Get(ctx, w.AccountID)
	if err != nil {
		return fmt.Errorf("worker: load account %s: %w", w.AccountID, err)
	}
	app, err := w.p.AppRepo.Get(ctx, acc.TelegramAppID)
	if err != nil {
		return fmt.Errorf("worker: load telegram app for account %s: %w", w.AccountID, err)
	}

	if !acc.LastActivityAt.IsZero() {
		since := time.Since(acc.LastActivityAt)
		if since < residualActivityWindow {
			residual := residualActivityWindow - since
			logger.Infof("worker: account %s resuming %s after last activity, sleeping residual %s", w.AccountID, since, residual)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(residual):
			}
		}
	}

	client, p, err := w.connect(ctx, acc, app)
	if err != nil {
		_ = w.p.AccountRepo.UpdateStatus(ctx, w.AccountID, account.StatusError)
		return fmt.Errorf("worker: connect account %s: %w", w.AccountID, err)
	}
	w.client = client
	w.proxy = p

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	client.OnMessage(w.handleIncoming)

	if err := w.p.AccountRepo.UpdateStatus(ctx, w.AccountID, account.StatusActive); err != nil {
		logger.Warnf("worker: account %s failed to persist active status: %v", w.AccountID, err)
	}
	w.setRunning(true)

	if err := w.initWarmup(ctx, acc); err != nil {
		logger.Warnf("worker: account %s warm-up init failed, continuing without it: %v", w.AccountID, err)
	}

	w.batcher = batcher.New(batcher.DefaultDebounce, batcher.DefaultCeiling, w.handleFlush)
	w.batcher.Start(runCtx)

	w.wg.Add(2)
	go w.runBackgroundLoop(runCtx)
	go w.runMainLoop(runCtx)
	go w.superviseExit()

	return nil
}

// superviseExit flips Running back to false the moment both sub-loops exit
// on their own, e.g. runMainLoopStep hit a non-transient error, without
// going through the explicit Stop path. internal/manager's
// health check watches exactly this transition to detect and restart a dead
// worker.
func (w *Worker) superviseExit() {
	w.wg.Wait()
	w.mu.Lock()
	explicit := w.explicitStop
	w.mu.Unlock()
	if !explicit {
		w.setRunning(false)
	}
}

// Stop cancels the batcher, main task loop and background loop, disconnects
// the client with stopDeadline, and transitions the account to paused.
func (w *Worker) Stop(ctx context.Context) {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.explicitStop = true
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if w.batcher != nil {
		w.batcher.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDeadline):
		logger.Warnf("worker: account %s sub-loops did not stop within %s", w.AccountID, stopDeadline)
	}

	if w.client != nil {
		closed := make(chan error, 1)
		go func() { closed <- w.client.Close() }()
		select {
		case err := <-closed:
			if err != nil {
				logger.Warnf("worker: account %s client close error: %v", w.AccountID, err)
			}
		case <-time.After(stopDeadline):
			logger.Warnf("worker: account %s client close did not finish within %s", w.AccountID, stopDeadline)
		}
	}
	if w.proxy != nil {
		w.p.ProxyRegistry.Release(w.proxy.ID)
	}

	w.setRunning(false)
	if err := w.p.AccountRepo.UpdateStatus(ctx, w.AccountID, account.StatusPaused); err != nil {
		logger.Warnf("worker: account %s failed to persist paused status: %v", w.AccountID, err)
	}
}
