package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/throttle"
)

// healthCheckTimeout — общий таймаут одной проверки "дозвонись через прокси
// до well-known HTTPS endpoint".
const healthCheckTimeout = 15 * time.Second

// healthCheckEndpoint — well-known HTTPS endpoint для проверки прокси.
const healthCheckEndpoint = "https://www.telegram.org/"

// HealthChecker прогоняет health-check проверки по прокси реестра. Троттлер
// несёт и общий темп исходящих проверочных соединений по всему пулу (чтобы
// не поднимать разом сотни TCP-хендшейков при холодном старте), и
// ретраи/backoff одной проверки.
type HealthChecker struct {
	registry  *Registry
	throttler *throttle.Throttler
}

// NewHealthChecker создаёт чекер с лимитом checksPerSecond проверок по
// всему пулу.
func NewHealthChecker(registry *Registry, checksPerSecond int) *HealthChecker {
	if checksPerSecond <= 0 {
		checksPerSecond = 5
	}
	return &HealthChecker{
		registry:  registry,
		throttler: throttle.New(checksPerSecond, throttle.WithMaxRetries(2)),
	}
}

// CheckOnce выполняет одну проверку доступности p, обновляя реестр по
// результату: успех обновляет latency и сбрасывает failure-count, неудача
// инкрементирует его.
func (h *HealthChecker) CheckOnce(ctx context.Context, p *account.Proxy) error {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	started := time.Now()
	err := h.throttler.Do(checkCtx, func() error {
		return dialThrough(checkCtx, p)
	})
	latency := time.Since(started)

	if err != nil {
		h.registry.MarkFailed(p.ID)
		return fmt.Errorf("proxy %s health check: %w", p.ID, err)
	}
	h.registry.MarkActive(p.ID, latency)
	return nil
}

// Run прогоняет CheckOnce для каждого известного прокси по тикеру interval,
// пока ctx не отменён. Предназначен для фонового цикла менеджера.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range h.registry.Snapshot() {
				if p.Status == account.ProxyStatusBanned {
					continue
				}
				if err := h.CheckOnce(ctx, p); err != nil {
					logger.Debugf("proxy health check failed: %v", err)
				}
			}
		}
	}
}

// dialThrough открывает TCP/TLS-соединение до healthCheckEndpoint через
// прокси p, по способу, зависящему от его вида. mtproto-прокси не проксируют произвольный HTTPS-трафик — для них
// проверяется голый TCP-дозвон до самого прокси-эндпоинта.
func dialThrough(ctx context.Context, p *account.Proxy) error {
	switch p.Kind {
	case account.ProxyKindSOCKS5, account.ProxyKindSOCKS4:
		return dialSOCKS(ctx, p)
	case account.ProxyKindHTTP, account.ProxyKindHTTPS:
		return dialHTTPProxy(ctx, p)
	case account.ProxyKindMTProto:
		return dialTCP(ctx, p.Endpoint())
	default:
		return fmt.Errorf("proxy: unsupported kind %q", p.Kind)
	}
}

func dialSOCKS(ctx context.Context, p *account.Proxy) error {
	var auth *xproxy.Auth
	if p.Username != "" {
		auth = &xproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", p.Endpoint(), auth, xproxy.Direct)
	if err != nil {
		return fmt.Errorf("build socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return errors.New("socks5 dialer does not support context")
	}
	conn, err := ctxDialer.DialContext(ctx, "tcp", "telegram.org:443")
	if err != nil {
		return err
	}
	return tlsHandshakeAndClose(ctx, conn, "telegram.org")
}

func dialHTTPProxy(ctx context.Context, p *account.Proxy) error {
	transport := &http.Transport{
		Proxy: http.ProxyURL(p.ProxyURL()),
	}
	client := &http.Client{Transport: transport, Timeout: healthCheckTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, healthCheckEndpoint, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func dialTCP(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func tlsHandshakeAndClose(ctx context.Context, conn net.Conn, serverName string) error {
	tlsConn := tls.Client(conn, &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12})
	defer tlsConn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	return tlsConn.Handshake()
}
