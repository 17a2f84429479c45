// Package dialogue содержит агрегат Dialogue — переписку одного аккаунта с
// одним пользователем Telegram в рамках кампании, вместе с её сообщениями.
package dialogue

import (
	"time"

	"github.com/google/uuid"
)

// Status — статус диалога.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInitiated   Status = "initiated"
	StatusActive      Status = "active"
	StatusGoalReached Status = "goal_reached"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusPaused      Status = "paused"
	StatusExpired     Status = "expired"
)

// Terminal сообщает, заморожена ли история сообщений в этом статусе —
// "терминальные статусы (completed, failed, expired) замораживают историю".
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// Role — автор сообщения в диалоге.
type Role string

const (
	RoleAccount Role = "account"
	RoleUser    Role = "user"
)

// Message — одно сообщение переписки. Append-only: диалог хранит их как
// упорядоченный список и никогда не переписывает задним числом.
type Message struct {
	Role            Role
	Content         string
	At              time.Time
	TelegramMsgID   int64 // 0, если ещё не подтверждён Telegram'ом
	AIGenerated     bool
	TokensUsed      int
	IsFollowUp      bool
}

// Dialogue — корневой агрегат переписки Account × Campaign × Target × Telegram-user.
type Dialogue struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	CampaignID       uuid.UUID
	TargetID         uuid.UUID
	TelegramUserID   int64
	Status           Status
	Messages         []Message

	GoalMessageSent     bool
	GoalSentAt          time.Time
	NextActionAt        time.Time
	RetryCount          int
	MaxRetries          int
	LastUserResponseAt  time.Time
	InterestScore       int
	LinkSentCount       int
	NeedsReview         bool
	CreativeSent        bool
	FailReason          string

	Version int
}

// maxInterestScore — верхняя граница шкалы заинтересованности.
const maxInterestScore = 20

// Append добавляет сообщение к истории. Паникует в вызывающем коде по
// соглашению с репозиторием не требуется: вызывающая сторона обязана сама
// не звать Append на замороженном (терминальном) диалоге — проверка
// выполняется на уровне воркера, где решение о завершении уже принято.
func (d *Dialogue) Append(msg Message) {
	d.Messages = append(d.Messages, msg)
}

// AddInterest прибавляет delta к шкале заинтересованности с насыщением в
// [0, maxInterestScore].
func (d *Dialogue) AddInterest(delta int) {
	d.InterestScore += delta
	if d.InterestScore < 0 {
		d.InterestScore = 0
	}
	if d.InterestScore > maxInterestScore {
		d.InterestScore = maxInterestScore
	}
}

// MarkGoalReached фиксирует достижение цели диалога.
func (d *Dialogue) MarkGoalReached(at time.Time) {
	d.GoalMessageSent = true
	d.GoalSentAt = at
	d.LinkSentCount++
	d.Status = StatusGoalReached
}

// MarkCompleted переводит диалог в завершённое терминальное состояние.
func (d *Dialogue) MarkCompleted() {
	d.Status = StatusCompleted
}

// MarkFailed переводит диалог в провальное терминальное состояние с причиной.
func (d *Dialogue) MarkFailed(reason string) {
	d.Status = StatusFailed
	d.FailReason = reason
}

// MarkHandoff ставит диалог на паузу для ручного разбора оператором —
// реакция на действие HANDOFF.
func (d *Dialogue) MarkHandoff() {
	d.Status = StatusPaused
	d.NeedsReview = true
}

// CanRetry сообщает, остались ли попытки повтора для этого диалога.
func (d *Dialogue) CanRetry() bool {
	return d.RetryCount < d.MaxRetries
}
