package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stats — срез метрик очереди одного аккаунта, отдаваемый наружу менеджером.
type Stats struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	DLQSize   int64
}

// Store — durable хранилище задач воркера. Референсная реализация —
// списки Redis (internal/infra/taskqueue/redis); internal/infra/taskqueue/inmemory
// предоставляет ту же семантику для тестов и однопроцессного режима без Redis.
//
// Гарантия эксклюзивности: Dequeue не должен быть виден двум воркерам
// одновременно — это обеспечивает сама реализация хранилища.
type Store interface {
	// Enqueue кладёт задачу в очередь аккаунта: в хвост, либо в голову при priority.
	Enqueue(ctx context.Context, task *Task, priority bool) error

	// Dequeue блокирующе снимает задачу с головы очереди account с таймаутом
	// timeout, атомарно перемещая её в processing-множество. Возвращает
	// (nil, nil), если ничего не пришло за отведённое время.
	Dequeue(ctx context.Context, account uuid.UUID, timeout time.Duration) (*Task, error)

	// Complete убирает задачу из processing и увеличивает completed[account].
	Complete(ctx context.Context, task *Task) error

	// Fail убирает задачу из processing; если retry и остались попытки,
	// планирует повтор через RetryBackoff(task.RetryCount) и кладёт задачу
	// обратно в голову очереди с retry_count+1; иначе кладёт в dead_letter
	// и увеличивает failed[account].
	Fail(ctx context.Context, task *Task, cause string, retry bool) error

	// Requeue immediately moves task from processing back to the head of
	// its account's queue, with no backoff delay of its own — the caller is
	// expected to have already bumped task.RetryCount/LastError and to
	// impose whatever delay it needs (e.g. the flood-wait duration)
	// itself, in its own goroutine, rather than have the store impose the
	// generic Fail/RetryBackoff delay on top.
	Requeue(ctx context.Context, task *Task) error

	// RecoverProcessingTasks — стартовый сбор: каждая задача, оставшаяся в
	// любом processing:*, возвращается в голову соответствующей очереди.
	// Восстанавливает at-least-once после падения процесса.
	RecoverProcessingTasks(ctx context.Context) (int, error)

	// Stats возвращает метрики очереди конкретного аккаунта.
	Stats(ctx context.Context, account uuid.UUID) (Stats, error)
}
