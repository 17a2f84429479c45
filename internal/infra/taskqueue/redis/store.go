// Package redis реализует queue.Store поверх списков go-redis/v9: списки
// queue:<account> и processing:<account>, хэш статистики на метрику и единый
// глобальный список dead_letter.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"telegram-fleet/internal/domain/queue"
)

const deadLetterKey = "dead_letter"

const (
	statsEnqueuedKey  = "stats:enqueued"
	statsCompletedKey = "stats:completed"
	statsFailedKey    = "stats:failed"
)

// Store реализует queue.Store над *goredis.Client.
type Store struct {
	rdb *goredis.Client
}

// New оборачивает уже подключённый клиент redis. Жизненным циклом соединения
// (dial/close) владеет вызывающий код (cmd/fleetd).
func New(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

var _ queue.Store = (*Store)(nil)

func queueKey(account uuid.UUID) string      { return "queue:" + account.String() }
func processingKey(account uuid.UUID) string { return "processing:" + account.String() }

type wireTask struct {
	ID         uuid.UUID  `json:"id"`
	Type       queue.Type `json:"task_type"`
	AccountID  uuid.UUID  `json:"account_id"`
	CampaignID uuid.UUID  `json:"campaign_id"`
	TargetID   *uuid.UUID `json:"target_id,omitempty"`
	DialogueID *uuid.UUID `json:"dialogue_id,omitempty"`
	Recipient  string     `json:"recipient,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"error,omitempty"`
}

func toWire(t *queue.Task) wireTask {
	return wireTask{
		ID: t.ID, Type: t.Type, AccountID: t.AccountID, CampaignID: t.CampaignID,
		TargetID: t.TargetID, DialogueID: t.DialogueID, Recipient: t.Recipient,
		CreatedAt: t.CreatedAt, RetryCount: t.RetryCount, MaxRetries: t.MaxRetries,
		LastError: t.LastError,
	}
}

func fromWire(w wireTask) *queue.Task {
	return &queue.Task{
		ID: w.ID, Type: w.Type, AccountID: w.AccountID, CampaignID: w.CampaignID,
		TargetID: w.TargetID, DialogueID: w.DialogueID, Recipient: w.Recipient,
		CreatedAt: w.CreatedAt, RetryCount: w.RetryCount, MaxRetries: w.MaxRetries,
		LastError: w.LastError,
	}
}

// Enqueue реализует queue.Store: RPUSH (в хвост) или LPUSH (priority, в голову).
func (s *Store) Enqueue(ctx context.Context, task *queue.Task, priority bool) error {
	payload, err := json.Marshal(toWire(task))
	if err != nil {
		return errors.Wrap(err, "marshal task")
	}
	key := queueKey(task.AccountID)
	pipe := s.rdb.TxPipeline()
	if priority {
		pipe.LPush(ctx, key, payload)
	} else {
		pipe.RPush(ctx, key, payload)
	}
	pipe.HIncrBy(ctx, statsEnqueuedKey, task.AccountID.String(), 1)
	_, err = pipe.Exec(ctx)
	return err
}

// Dequeue реализует queue.Store. BLPOP даёт блокирующее ожидание; сразу после
// извлечения задача переносится в processing:<account>. Между извлечением и
// HSET есть узкое окно, где сбой может потерять задачу в пути —
// RecoverProcessingTasks восстанавливает только то, что успело попасть в
// processing, так что это единственный допустимый зазор at-least-once.
func (s *Store) Dequeue(ctx context.Context, account uuid.UUID, timeout time.Duration) (*queue.Task, error) {
	res, err := s.rdb.BLPop(ctx, timeout, queueKey(account)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "blpop")
	}
	if len(res) != 2 {
		return nil, errors.New("redis: unexpected BLPOP reply shape")
	}

	var w wireTask
	if err := json.Unmarshal([]byte(res[1]), &w); err != nil {
		return nil, errors.Wrap(err, "unmarshal dequeued task")
	}
	task := fromWire(w)

	if err := s.rdb.HSet(ctx, processingKey(account), task.ID.String(), res[1]).Err(); err != nil {
		return nil, errors.Wrap(err, "move task to processing")
	}
	return task, nil
}

// Complete реализует queue.Store.
func (s *Store) Complete(ctx context.Context, task *queue.Task) error {
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, processingKey(task.AccountID), task.ID.String())
	pipe.HIncrBy(ctx, statsCompletedKey, task.AccountID.String(), 1)
	_, err := pipe.Exec(ctx)
	return err
}

// Fail реализует queue.Store: убирает из processing; либо повторяет через
// отложенную приоритетную постановку в очередь, либо сбрасывает в
// dead_letter и увеличивает failed[account].
func (s *Store) Fail(ctx context.Context, task *queue.Task, cause string, retry bool) error {
	if err := s.rdb.HDel(ctx, processingKey(task.AccountID), task.ID.String()).Err(); err != nil {
		return errors.Wrap(err, "remove from processing")
	}
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

	payload, err := json.Marshal(toWire(task))
	if err != nil {
		return errors.Wrap(err, "marshal dead-letter task")
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, deadLetterKey, payload)
	pipe.HIncrBy(ctx, statsFailedKey, task.AccountID.String(), 1)
	_, err = pipe.Exec(ctx)
	return err
}

// Requeue реализует queue.Store: немедленно, без планирования задержки,
// убирает task из processing и кладёт его в голову очереди аккаунта.
func (s *Store) Requeue(ctx context.Context, task *queue.Task) error {
	payload, err := json.Marshal(toWire(task))
	if err != nil {
		return errors.Wrap(err, "marshal requeued task")
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, processingKey(task.AccountID), task.ID.String())
	pipe.LPush(ctx, queueKey(task.AccountID), payload)
	_, err = pipe.Exec(ctx)
	return err
}

// RecoverProcessingTasks реализует queue.Store: сканирует все хэши
// processing:* и возвращает их содержимое в голову соответствующей очереди.
func (s *Store) RecoverProcessingTasks(ctx context.Context) (int, error) {
	var cursor uint64
	recovered := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, "processing:*", 100).Result()
		if err != nil {
			return recovered, errors.Wrap(err, "scan processing keys")
		}
		for _, key := range keys {
			account := key[len("processing:"):]
			values, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return recovered, errors.Wrap(err, fmt.Sprintf("hgetall %s", key))
			}
			for id, payload := range values {
				if err := s.rdb.LPush(ctx, "queue:"+account, payload).Err(); err != nil {
					return recovered, errors.Wrap(err, "requeue recovered task")
				}
				if err := s.rdb.HDel(ctx, key, id).Err(); err != nil {
					return recovered, errors.Wrap(err, "clear recovered processing entry")
				}
				recovered++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return recovered, nil
}

// Stats реализует queue.Store.
func (s *Store) Stats(ctx context.Context, account uuid.UUID) (queue.Stats, error) {
	pipe := s.rdb.Pipeline()
	enqueued := pipe.HGet(ctx, statsEnqueuedKey, account.String())
	completed := pipe.HGet(ctx, statsCompletedKey, account.String())
	failed := pipe.HGet(ctx, statsFailedKey, account.String())
	deadLetters := pipe.LRange(ctx, deadLetterKey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return queue.Stats{}, errors.Wrap(err, "stats pipeline")
	}

	// dead_letter общий для всех аккаунтов: считаем только записи этого аккаунта.
	var dlqSize int64
	for _, payload := range deadLetters.Val() {
		var w wireTask
		if json.Unmarshal([]byte(payload), &w) == nil && w.AccountID == account {
			dlqSize++
		}
	}

	return queue.Stats{
		Enqueued:  intOrZero(enqueued),
		Completed: intOrZero(completed),
		Failed:    intOrZero(failed),
		DLQSize:   dlqSize,
	}, nil
}

func intOrZero(cmd *goredis.StringCmd) int64 {
	v, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return v
}
