package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"telegram-fleet/internal/domain/account"
)

// dialHTTPConnect открывает TCP-туннель до addr через HTTP(S)-прокси p,
// используя метод CONNECT — единственный портативный способ пустить
// произвольный (не-HTTP) TCP-трафик, в частности MTProto, через HTTP-прокси.
func dialHTTPConnect(ctx context.Context, p *account.Proxy, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("proxy: dial http proxy %s: %w", p.Endpoint(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req, err := http.NewRequest(http.MethodConnect, "http://"+addr, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: build CONNECT request: %w", err)
	}
	req.Host = addr
	if p.Username != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: write CONNECT request: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: read CONNECT response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy: CONNECT %s via %s failed: %s", addr, p.Endpoint(), resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
