// Package telegram adapts one MTProto connection per account: session
// storage, connection supervision and the typed operation set, built as a
// per-account factory rather than a process-global client.
package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/config"
	"telegram-fleet/internal/infra/proxy"
	"telegram-fleet/internal/infra/telegram/devicefingerprint"
	"telegram-fleet/internal/infra/vault"
)

// connectTimeout bounds how long NewClient waits for the initial MTProto
// handshake and auth-status check before giving up.
const connectTimeout = 30 * time.Second

// AccountParams carries everything NewClient needs to bring up one account's
// MTProto connection.
type AccountParams struct {
	Account     *account.Account
	TelegramApp *account.TelegramApp
	Proxy       *account.Proxy
	Repo        account.Repository
	Vault       *vault.Vault
}

// Client wraps one telegram.Client and its tg.Client RPC surface, scoped to a
// single account.
type Client struct {
	AccountID uuid.UUID

	raw       *telegram.Client
	api       *tg.Client
	monitor   *connectionMonitor
	peers     *peerResolver
	cancel    context.CancelFunc
	onMessage MessageHandler
}

// NewClient builds and connects a Client for one account. A nil proxy is
// refused outright: a connection without a resolved proxy is a bug, not a
// fallback.
func NewClient(ctx context.Context, p AccountParams) (*Client, error) {
	if p.Proxy == nil {
		return nil, fmt.Errorf("telegram: account %s has no assigned proxy, refusing direct connect", p.Account.ID)
	}
	if p.TelegramApp == nil {
		return nil, fmt.Errorf("telegram: account %s has no telegram app", p.Account.ID)
	}

	resolver, err := proxy.ResolverFor(p.Proxy)
	if err != nil {
		return nil, fmt.Errorf("telegram: build proxy resolver: %w", err)
	}

	sessionStorage, err := newVaultSessionStorage(p.Vault, p.Repo, p.Account)
	if err != nil {
		return nil, fmt.Errorf("telegram: build session storage: %w", err)
	}

	fp := devicefingerprint.For(p.Account.ID, time.Now())

	ctx, cancel := context.WithCancel(ctx)

	c := &Client{AccountID: p.Account.ID, cancel: cancel}

	dispatcher := tg.NewUpdateDispatcher()
	c.registerHandlers(&dispatcher)

	options := telegram.Options{
		SessionStorage: sessionStorage,
		UpdateHandler:  &dispatcher,
		Resolver:       resolver,
		Device: telegram.DeviceConfig{
			DeviceModel:    fp.DeviceModel,
			SystemVersion:  fp.SystemVersion,
			AppVersion:     fp.AppVersion,
			LangCode:       fp.LangCode,
			SystemLangCode: fp.SystemLangCode,
		},
		OnDead: func() {
			if c.monitor != nil {
				c.monitor.markDisconnected()
			}
		},
	}

	raw := telegram.NewClient(p.TelegramApp.APIID, p.TelegramApp.APIHash, options)
	c.raw = raw
	c.api = raw.API()
	c.monitor = newConnectionMonitor(ctx, raw)

	peersDBPath := filepath.Join(config.Env().DataDir, "peers", p.Account.ID.String()+".bbolt")
	peerCache, err := newPeerResolver(c.api, peersDBPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("telegram: build peer cache: %w", err)
	}
	c.peers = peerCache

	ready := make(chan struct{})
	runErr := make(chan error, 1)
	go func() {
		runErr <- raw.Run(ctx, func(runCtx context.Context) error {
			status, statusErr := raw.Auth().Status(runCtx)
			if statusErr != nil {
				return fmt.Errorf("auth status: %w", statusErr)
			}
			if !status.Authorized {
				return fmt.Errorf("telegram: account %s session is not authorized", p.Account.ID)
			}
			c.monitor.markConnected()
			close(ready)
			<-runCtx.Done()
			return runCtx.Err()
		})
	}()

	connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
	defer cancelConnect()

	select {
	case <-ready:
		return c, nil
	case err := <-runErr:
		cancel()
		if err != nil {
			return nil, Classify(err)
		}
		return nil, fmt.Errorf("telegram: connection closed before use")
	case <-connectCtx.Done():
		cancel()
		return nil, &ErrTimeout{Raw: connectCtx.Err()}
	}
}

// Close tears down the background connection goroutine and peer cache.
func (c *Client) Close() error {
	c.cancel()
	if c.monitor != nil {
		c.monitor.shutdown()
	}
	if c.peers != nil {
		return c.peers.close()
	}
	return nil
}
