// Package campaign содержит агрегат Campaign — кампанию рассылки, её цель,
// промпт, расписание отправки и AI-настройки, вместе со связанной сущностью
// UserTarget.
package campaign

import (
	"time"

	"github.com/google/uuid"
)

// Status — статус жизненного цикла кампании.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusReady     Status = "ready"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Goal описывает критерий успеха диалога.
type Goal struct {
	TargetMessage   string
	TargetURL       string // опционально
	MinBeforeGoal   int
	MaxBeforeGoal   int
}

// Prompt — системная часть LLM-промпта и шаблон первого сообщения.
type Prompt struct {
	System          string
	FirstMessage    string
	ForbiddenTopics []string
	Language        string
	Tone            string
}

// Sending — параметры темпа рассылки кампании.
type Sending struct {
	SendIntervalHours float64
	MessagesPerBatch  int
	DelayMinSeconds   int
	DelayMaxSeconds   int
	LastBatchAt       time.Time
	SourceFilePath    string
	FollowUpEnabled   bool
}

// AISettings — параметры вызова LLM для этой кампании.
type AISettings struct {
	Model       string
	Fallback    string // опциональная сконфигурированная модель фоллбэка
	Temperature float64
	MaxTokens   int
}

// Stats — счётчики кампании, обновляемые по ходу диалогов.
type Stats struct {
	TargetsTotal     int
	TargetsContacted int
	DialoguesActive  int
	GoalsReached     int
	Failed           int
}

// Campaign — корневой агрегат кампании рассылки.
type Campaign struct {
	ID       uuid.UUID
	Name     string
	Status   Status
	Goal     Goal
	Prompt   Prompt
	Sending  Sending
	AI       AISettings
	Stats    Stats
	Version  int
}

// ReadyToActivate проверяет предусловия активации кампании:
// непустой системный промпт, хотя бы один аккаунт и хотя бы одна цель.
func (c *Campaign) ReadyToActivate(accountCount, targetCount int) bool {
	return c.Prompt.System != "" && accountCount >= 1 && targetCount >= 1
}

// DueForBatch сообщает, истёк ли интервал рассылки с последнего батча —
// "если send_interval_hours ещё не прошло с last_batch_at, пропустить
// кампанию в этом раунде".
func (c *Campaign) DueForBatch(now time.Time) bool {
	if c.Sending.LastBatchAt.IsZero() {
		return true
	}
	elapsed := now.Sub(c.Sending.LastBatchAt)
	return elapsed >= time.Duration(c.Sending.SendIntervalHours*float64(time.Hour))
}

// RecordGoalReached инкрементирует счётчик достигнутых целей кампании.
func (c *Campaign) RecordGoalReached() {
	c.Stats.GoalsReached++
}

// RecordFailed инкрементирует счётчик провальных диалогов кампании.
func (c *Campaign) RecordFailed() {
	c.Stats.Failed++
}
