package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/gotd/td/telegram/dcs"
	xproxy "golang.org/x/net/proxy"

	"telegram-fleet/internal/domain/account"
)

// ResolverFor строit dcs.Resolver, который маршрутизирует MTProto-трафик
// через p. Это единственная точка, где
// прокси реестра превращается в низкоуровневый dial-hook для клиента — сам
// клиент никогда не открывает соединение напрямую.
func ResolverFor(p *account.Proxy) (dcs.Resolver, error) {
	if p == nil {
		return nil, fmt.Errorf("proxy: resolver requires a non-nil proxy")
	}

	switch p.Kind {
	case account.ProxyKindSOCKS5, account.ProxyKindSOCKS4:
		return socks5Resolver(p)
	case account.ProxyKindHTTP, account.ProxyKindHTTPS:
		return httpConnectResolver(p)
	case account.ProxyKindMTProto:
		return dcs.Plain(dcs.PlainOptions{Dial: (&net.Dialer{}).DialContext}), nil
	default:
		return nil, fmt.Errorf("proxy: unsupported kind %q", p.Kind)
	}
}

// socks5Resolver строит dcs.Resolver, который дозванивается до DC через
// SOCKS5-туннель p, используя golang.org/x/net/proxy (тот же пакет, что и
// HealthChecker для проверки доступности).
func socks5Resolver(p *account.Proxy) (dcs.Resolver, error) {
	var auth *xproxy.Auth
	if p.Username != "" {
		auth = &xproxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := xproxy.SOCKS5("tcp", p.Endpoint(), auth, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy: build socks5 dialer: %w", err)
	}
	ctxDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy: socks5 dialer %T does not support context dialing", dialer)
	}
	return dcs.Plain(dcs.PlainOptions{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return ctxDialer.DialContext(ctx, network, addr)
		},
	}), nil
}

// httpConnectResolver строит dcs.Resolver поверх HTTP CONNECT-туннеля p —
// стандартный способ пустить произвольный TCP (в том числе MTProto) через
// HTTP(S)-прокси.
func httpConnectResolver(p *account.Proxy) (dcs.Resolver, error) {
	return dcs.Plain(dcs.PlainOptions{
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialHTTPConnect(ctx, p, addr)
		},
	}), nil
}
