package telegram

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"

	"telegram-fleet/internal/infra/logger"
)

// reconnectPingInterval и reconnectPingTimeout управляют фоновым пингом во
// время простоя соединения — один монитор на клиента, не на процесс: у флота
// множество одновременных MTProto-соединений, и состояние online/offline
// каждого из них не может жить в общих пакетных переменных.
const (
	reconnectPingInterval = 10 * time.Second
	reconnectPingTimeout  = 5 * time.Second
)

// connectionMonitor отслеживает online/offline состояние одного MTProto-
// клиента и даёт вызывающим операциям дождаться восстановления связи.
type connectionMonitor struct {
	client *telegram.Client
	ctx    context.Context

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// newConnectionMonitor создаёт монитор в состоянии online (закрытый waitCh),
// чтобы вызовы waitOnline не блокировались до первого реального разрыва.
func newConnectionMonitor(ctx context.Context, client *telegram.Client) *connectionMonitor {
	m := &connectionMonitor{client: client, ctx: ctx}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready
	return m
}

// waitOnline блокирует вызывающую горутину до восстановления соединения или
// отмены ctx.
func (m *connectionMonitor) waitOnline(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if m.connected.Load() {
		return
	}

	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if ch == m.currentWaitCh() {
				return
			}
		}
	}
}

// handleError переводит монитор в offline, если err похожа на сетевую;
// возвращает true в этом случае.
func (m *connectionMonitor) handleError(err error) bool {
	if !isNetworkError(err) {
		return false
	}
	m.markDisconnected()
	return true
}

func (m *connectionMonitor) currentWaitCh() <-chan struct{} {
	m.mu.RLock()
	ch := m.waitCh
	m.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

func (m *connectionMonitor) markConnected() {
	if m.connected.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	ch := m.waitCh
	if ch == nil {
		ch = make(chan struct{})
		m.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	m.mu.Unlock()
}

func (m *connectionMonitor) markDisconnected() {
	if !m.connected.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	m.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.mu.Unlock()

	go m.monitorLoop(monitorCtx)
}

func (m *connectionMonitor) shutdown() {
	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	wait := m.waitCh
	m.waitCh = nil
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

// monitorLoop дёргает лёгкий RPC (Self) с периодом reconnectPingInterval,
// пока либо вызов не пройдёт (связь восстановлена), либо ctx не отменён.
func (m *connectionMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
		err := m.safeSelf(pingCtx)
		cancel()

		if err == nil {
			m.markConnected()
			return
		}
		logger.Debugf("connectionMonitor: reconnect probe failed: %v", err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *connectionMonitor) safeSelf(ctx context.Context) (err error) {
	if m.client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = net.ErrClosed
		}
	}()
	_, err = m.client.Self(ctx)
	return err
}

// isNetworkError распознаёт сетевые сбои MTProto-транспорта.
func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
