// Package warmup содержит сущности прогрева свежего аккаунта перед тем, как
// ему разрешается вести outreach и отвечать пользователям.
package warmup

import (
	"time"

	"github.com/google/uuid"
)

// Status — статус прогрева аккаунта.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// AccountWarmup — состояние прогрева одного аккаунта.
type AccountWarmup struct {
	AccountID       uuid.UUID
	ProfileID       uuid.UUID
	Stage           int
	Status          Status
	DailyCounters   map[string]int // action name -> count today
	DailyResetHour  int
	FloodWaitUntil  time.Time
	StartedAt       time.Time
}

// InFloodWait сообщает, ждёт ли прогрев истечения flood-wait паузы.
func (w *AccountWarmup) InFloodWait(now time.Time) bool {
	return now.Before(w.FloodWaitUntil)
}

// ApplyFlood переводит прогрев в ожидание на seconds секунд от now;
// текущий цикл прогрева на этом останавливается.
func (w *AccountWarmup) ApplyFlood(now time.Time, seconds int) {
	w.FloodWaitUntil = now.Add(time.Duration(seconds) * time.Second)
}

// CanOutreach сообщает, разрешён ли аккаунту outreach/ответ пользователям —
// только когда прогрев завершён; активный прогрев запрещает и то, и другое.
func (w *AccountWarmup) CanOutreach() bool {
	return w.Status == StatusCompleted
}

// ResetDaily обнуляет дневные счётчики действий прогрева.
func (w *AccountWarmup) ResetDaily() {
	w.DailyCounters = make(map[string]int)
}

// Stage — один этап профиля прогрева: дневные лимиты на действия и флаг,
// разрешён ли на этом этапе outreach.
type Stage struct {
	Index        int
	MinDays      int // минимум дней с начала прогрева для входа в этот этап
	DailyCaps    map[string]int
	CanOutreach  bool
}

// Profile — упорядоченный набор этапов прогрева, применяемый к аккаунту.
type Profile struct {
	ID     uuid.UUID
	Name   string
	Stages []Stage
}

// StageFor возвращает индекс этапа, соответствующего количеству прошедших
// дней с начала прогрева ("advances stages based on elapsed days matched
// against the profile's stage schedule"). Возвращает последний этап,
// если elapsedDays превышает расписание всех этапов — это сигнал к завершению
// прогрева вызывающей стороной.
func (p *Profile) StageFor(elapsedDays int) int {
	stage := 0
	for i, s := range p.Stages {
		if elapsedDays >= s.MinDays {
			stage = i
		}
	}
	return stage
}

// IsLastStage сообщает, является ли stage последним в расписании профиля.
func (p *Profile) IsLastStage(stage int) bool {
	return stage >= len(p.Stages)-1
}

// Channel — канал из пула для вступления во время прогрева.
type Channel struct {
	ID       uuid.UUID
	Username string
	Weight   int
}

// Group — группа из пула для вступления во время прогрева.
type Group struct {
	ID       uuid.UUID
	Username string
	Weight   int
}

// Persona — симулируемая личность аккаунта: скорость печати, активные часы,
// вероятность реакции на посты.
type Persona struct {
	AccountID          uuid.UUID
	TypingCharsPerSec  float64
	ActiveHourStart    int
	ActiveHourEnd      int
	ReactionProbability float64
}

// InActiveHours сообщает, попадает ли час hour (0..23) в активные часы персоны.
func (p *Persona) InActiveHours(hour int) bool {
	if p.ActiveHourStart <= p.ActiveHourEnd {
		return hour >= p.ActiveHourStart && hour < p.ActiveHourEnd
	}
	// окно, пересекающее полночь
	return hour >= p.ActiveHourStart || hour < p.ActiveHourEnd
}

// TypingDuration оценивает продолжительность "печати" сообщения длиной
// textLen символов при скорости персоны.
func (p *Persona) TypingDuration(textLen int) time.Duration {
	if p.TypingCharsPerSec <= 0 {
		return 0
	}
	return time.Duration(float64(textLen)/p.TypingCharsPerSec*1000) * time.Millisecond
}
