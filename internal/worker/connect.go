package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/telegram"
)

// maxConnectAttempts is the proxy-failover budget, both at start and for
// the single mid-run failover: after 4 failed proxies in a row the worker
// stops with an error status.
const maxConnectAttempts = 4

// errAuth marks a connection attempt as auth-class: these abort immediately
// and set status error instead of trying another proxy.
type errAuth struct{ cause error }

func (e *errAuth) Error() string { return fmt.Sprintf("worker: auth failure: %v", e.cause) }
func (e *errAuth) Unwrap() error { return e.cause }

// connect builds a Client for acc, retrying through up to maxConnectAttempts
// distinct proxies on any connection-class failure.
// Auth-class failures abort the loop immediately. On success it
// returns the connected client and the proxy it ended up using.
func (w *Worker) connect(ctx context.Context, acc *account.Account, app *account.TelegramApp) (*telegram.Client, *account.Proxy, error) {
	excluded := make(map[uuid.UUID]bool)

	for attempt := 0; attempt < maxConnectAttempts; attempt++ {
		p, err := w.currentOrNextProxy(ctx, acc, excluded)
		if err != nil {
			return nil, nil, fmt.Errorf("worker: assign proxy for account %s: %w", acc.ID, err)
		}

		client, err := telegram.NewClient(ctx, telegram.AccountParams{
			Account:     acc,
			TelegramApp: app,
			Proxy:       p,
			Repo:        w.p.AccountRepo,
			Vault:       w.p.Vault,
		})
		if err == nil {
			return client, p, nil
		}

		if isAuthClassError(err) {
			return nil, nil, &errAuth{cause: err}
		}

		logger.Warnf("worker: account %s failed to connect through proxy %s (attempt %d/%d): %v",
			acc.ID, p.ID, attempt+1, maxConnectAttempts, err)
		w.p.ProxyRegistry.MarkFailed(p.ID)
		w.p.ProxyRegistry.Release(p.ID)
		excluded[p.ID] = true
	}

	return nil, nil, fmt.Errorf("worker: account %s exhausted %d proxy attempts", acc.ID, maxConnectAttempts)
}

// currentOrNextProxy prefers the account's already-assigned proxy (if any
// and not excluded), otherwise assigns a fresh one from the registry.
func (w *Worker) currentOrNextProxy(ctx context.Context, acc *account.Account, excluded map[uuid.UUID]bool) (*account.Proxy, error) {
	if acc.ProxyID != nil && !excluded[*acc.ProxyID] {
		if p, err := w.p.ProxyRegistry.Get(*acc.ProxyID); err == nil && p.Usable() {
			return p, nil
		}
	}
	return w.p.ProxyRegistry.AssignNext(ctx, acc.ID, excluded)
}

// isAuthClassError reports whether err reflects session revocation/auth-key
// duplication rather than a transient connection problem.
func isAuthClassError(err error) bool {
	var authErr *telegram.ErrAuth
	return asErrAuth(err, &authErr)
}

func asErrAuth(err error, target **telegram.ErrAuth) bool {
	for err != nil {
		if e, ok := err.(*telegram.ErrAuth); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
