// Package queue содержит сущность Task и интерфейс хранилища очереди задач
// воркера, независимый от конкретной СУБД/брокера.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Type — вид задачи, помещаемой в очередь аккаунта.
type Type string

const (
	TypeSendFirstMessage Type = "send_first_message"
	TypeSendResponse     Type = "send_response"
	TypeSendFollowUp     Type = "send_follow_up"
)

// DefaultMaxRetries — лимит повторов задачи по умолчанию.
const DefaultMaxRetries = 3

// Task — запись очереди: что сделать, для какого аккаунта/кампании/цели.
type Task struct {
	ID         uuid.UUID
	Type       Type
	AccountID  uuid.UUID
	CampaignID uuid.UUID
	TargetID   *uuid.UUID
	DialogueID *uuid.UUID
	Recipient  string // id или username получателя
	CreatedAt  time.Time
	RetryCount int
	MaxRetries int
	LastError  string
}

// NewTask создаёт задачу с MaxRetries по умолчанию и свежим id/created_at.
func NewTask(typ Type, accountID, campaignID uuid.UUID, recipient string) *Task {
	return &Task{
		ID:         uuid.New(),
		Type:       typ,
		AccountID:  accountID,
		CampaignID: campaignID,
		Recipient:  recipient,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// RetryBackoff возвращает паузу перед повторной постановкой задачи в очередь:
// min(300, 10*2^retry_count) секунд.
func RetryBackoff(retryCount int) time.Duration {
	seconds := 10 * (1 << retryCount)
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}

// CanRetry сообщает, остались ли у задачи попытки повтора.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}
