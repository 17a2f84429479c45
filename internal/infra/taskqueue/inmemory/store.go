// Package inmemory реализует queue.Store без внешнего брокера — для тестов
// и однопроцессных запусков без Redis.
package inmemory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/queue"
)

type accountQueue struct {
	pending    *list.List // of *queue.Task, front = head
	processing map[uuid.UUID]*queue.Task
	enqueued   int64
	completed  int64
	failed     int64
	notify     chan struct{}
}

func newAccountQueue() *accountQueue {
	return &accountQueue{
		pending:    list.New(),
		processing: make(map[uuid.UUID]*queue.Task),
		notify:     make(chan struct{}, 1),
	}
}

func (q *accountQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Store — защищённая мьютексом, локальная для процесса реализация queue.Store.
type Store struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*accountQueue
	dlq      []*queue.Task
}

// New строит пустое in-memory хранилище задач.
func New() *Store {
	return &Store{accounts: make(map[uuid.UUID]*accountQueue)}
}

var _ queue.Store = (*Store)(nil)

func (s *Store) accountFor(id uuid.UUID) *accountQueue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.accounts[id]
	if !ok {
		q = newAccountQueue()
		s.accounts[id] = q
	}
	return q
}

// Enqueue реализует queue.Store.
func (s *Store) Enqueue(_ context.Context, task *queue.Task, priority bool) error {
	q := s.accountFor(task.AccountID)
	s.mu.Lock()
	if priority {
		q.pending.PushFront(task)
	} else {
		q.pending.PushBack(task)
	}
	q.enqueued++
	s.mu.Unlock()
	q.wake()
	return nil
}

// Dequeue реализует queue.Store: блокирующее извлечение с таймаутом,
// атомарно (под мьютексом хранилища) перемещающее задачу в processing.
func (s *Store) Dequeue(ctx context.Context, account uuid.UUID, timeout time.Duration) (*queue.Task, error) {
	q := s.accountFor(account)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if front := q.pending.Front(); front != nil {
			q.pending.Remove(front)
			task := front.Value.(*queue.Task)
			q.processing[task.ID] = task
			s.mu.Unlock()
			return task, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

// Complete реализует queue.Store.
func (s *Store) Complete(_ context.Context, task *queue.Task) error {
	q := s.accountFor(task.AccountID)
	s.mu.Lock()
	delete(q.processing, task.ID)
	q.completed++
	s.mu.Unlock()
	return nil
}

// Fail реализует queue.Store.
func (s *Store) Fail(ctx context.Context, task *queue.Task, cause string, retry bool) error {
	q := s.accountFor(task.AccountID)

	s.mu.Lock()
	delete(q.processing, task.ID)
	s.mu.Unlock()

	task.LastError = cause
	if retry && task.CanRetry() {
		backoff := queue.RetryBackoff(task.RetryCount)
		task.RetryCount++
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
				_ = s.Enqueue(context.Background(), task, true)
			}
		}()
		return nil
	}

	s.mu.Lock()
	s.dlq = append(s.dlq, task)
	q.failed++
	s.mu.Unlock()
	return nil
}

// Requeue реализует queue.Store: немедленно, без какой-либо задержки со
// стороны хранилища, переносит task из processing в голову очереди аккаунта.
func (s *Store) Requeue(_ context.Context, task *queue.Task) error {
	q := s.accountFor(task.AccountID)
	s.mu.Lock()
	delete(q.processing, task.ID)
	q.pending.PushFront(task)
	s.mu.Unlock()
	q.wake()
	return nil
}

// RecoverProcessingTasks реализует queue.Store: возвращает в начало очереди
// всё, что ещё числится в processing, по всем аккаунтам.
func (s *Store) RecoverProcessingTasks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recovered := 0
	for _, q := range s.accounts {
		for id, task := range q.processing {
			q.pending.PushFront(task)
			delete(q.processing, id)
			recovered++
		}
		q.wake()
	}
	return recovered, nil
}

// Stats реализует queue.Store.
func (s *Store) Stats(_ context.Context, account uuid.UUID) (queue.Stats, error) {
	q := s.accountFor(account)
	s.mu.Lock()
	defer s.mu.Unlock()

	dlqSize := int64(0)
	for _, t := range s.dlq {
		if t.AccountID == account {
			dlqSize++
		}
	}
	return queue.Stats{
		Enqueued:  q.enqueued,
		Completed: q.completed,
		Failed:    q.failed,
		DLQSize:   dlqSize,
	}, nil
}
