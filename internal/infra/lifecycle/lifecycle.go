// Package lifecycle — плоский менеджер фоновых подсистем демона.
// Узлы регистрируются в порядке, в котором должны подниматься; Shutdown
// гасит их строго в обратном порядке. Каждый узел получает собственный
// дочерний контекст от корневого: отмена корня каскадно останавливает все
// узлы, отмена одного узла не трогает соседей.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"telegram-fleet/internal/infra/logger"
)

// StartFunc запускает узел. Блокирующие циклы узел обязан уводить в
// собственные горутины: StartFunc должен возвращаться быстро.
type StartFunc func(ctx context.Context) error

// StopFunc останавливает узел. На момент вызова контекст узла уже отменён;
// реализация дожидается фоновых горутин и освобождает ресурсы.
type StopFunc func(ctx context.Context) error

// nodeStatus — состояние узла.
type nodeStatus int

const (
	statusRegistered nodeStatus = iota // зарегистрирован, ещё не запускался
	statusRunning                      // успешно запущен, контекст активен
	statusStopped                      // корректно остановлен
	statusFailed                       // ошибка при запуске или остановке
)

type node struct {
	name  string
	start StartFunc
	stop  StopFunc

	ctx    context.Context
	cancel context.CancelFunc
	status nodeStatus
	err    error
}

// Manager держит упорядоченный набор узлов. Потокобезопасен.
type Manager struct {
	rootCtx context.Context

	mu    sync.Mutex
	nodes []*node // порядок регистрации == порядок запуска
	index map[string]*node
}

// New создаёт менеджер над корневым контекстом rootCtx. Если rootCtx=nil,
// используется context.Background().
func New(rootCtx context.Context) *Manager {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Manager{
		rootCtx: rootCtx,
		index:   make(map[string]*node),
	}
}

// Register добавляет узел name в хвост порядка запуска. Имена уникальны.
func (m *Manager) Register(name string, start StartFunc, stop StopFunc) error {
	if name == "" {
		return errors.New("lifecycle: empty node name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.index[name]; exists {
		return fmt.Errorf("lifecycle: node %q already registered", name)
	}
	n := &node{name: name, start: start, stop: stop, status: statusRegistered}
	m.nodes = append(m.nodes, n)
	m.index[name] = n
	return nil
}

// StartAll запускает узлы в порядке регистрации. Первый отказавший узел
// прерывает запуск: уже поднятые узлы гасятся обратным порядком, и
// возвращается ошибка отказавшего узла (вместе с ошибками отката, если
// они были).
func (m *Manager) StartAll() error {
	m.mu.Lock()
	pending := append([]*node(nil), m.nodes...)
	m.mu.Unlock()

	for _, n := range pending {
		if err := m.startNode(n); err != nil {
			logger.Errorf("lifecycle: node %s failed to start: %v", n.name, err)
			if downErr := m.Shutdown(); downErr != nil {
				return errors.Join(err, downErr)
			}
			return err
		}
	}
	return nil
}

func (m *Manager) startNode(n *node) error {
	m.mu.Lock()
	if n.status == statusRunning {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.mu.Unlock()

	logger.Debugf("lifecycle: starting node %s", n.name)

	if n.start != nil {
		if err := n.start(ctx); err != nil {
			cancel()
			m.mu.Lock()
			n.status = statusFailed
			n.err = err
			m.mu.Unlock()
			return err
		}
	}

	m.mu.Lock()
	n.ctx = ctx
	n.cancel = cancel
	n.status = statusRunning
	n.err = nil
	m.mu.Unlock()

	logger.Debugf("lifecycle: node %s is running", n.name)
	return nil
}

// Shutdown останавливает запущенные узлы в порядке, обратном запуску.
// Возвращает объединённую ошибку всех отказавших stop-хуков.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	order := append([]*node(nil), m.nodes...)
	m.mu.Unlock()

	var errs error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopNode(order[i]); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (m *Manager) stopNode(n *node) error {
	m.mu.Lock()
	if n.status != statusRunning {
		m.mu.Unlock()
		return nil
	}
	cancel := n.cancel
	stopFn := n.stop
	nodeCtx := n.ctx
	m.mu.Unlock()

	logger.Debugf("lifecycle: stopping node %s", n.name)

	// Сначала отменяем контекст — сигнал фоновым горутинам узла.
	if cancel != nil {
		cancel()
	}

	var err error
	if stopFn != nil {
		err = stopFn(nodeCtx)
	}

	m.mu.Lock()
	if err != nil {
		n.status = statusFailed
		n.err = err
	} else {
		n.status = statusStopped
		n.err = nil
	}
	m.mu.Unlock()

	if err != nil {
		logger.Errorf("lifecycle: node %s stopped with error: %v", n.name, err)
		return fmt.Errorf("lifecycle: stop %s: %w", n.name, err)
	}
	logger.Debugf("lifecycle: node %s stopped", n.name)
	return nil
}
