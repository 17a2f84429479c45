// Package account содержит агрегат Account — учётную запись фейкового Telegram-пользователя,
// от имени которой воркер ведёт переписку, вместе со связанными сущностями Proxy и TelegramApp.
// Бизнес-назначение: зафиксировать состояние, лимиты и счётчики одного аккаунта так, как их
// видит остальной флот — планировщик, воркер и модель скорости/счётчиков.
package account

import (
	"crypto/md5" //nolint:gosec // используется как детерминированный хэш распределения, не для безопасности
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// Status — статус жизненного цикла аккаунта.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusReady    Status = "ready"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusError    Status = "error"
	StatusBanned   Status = "banned"
	StatusCooldown Status = "cooldown"
)

// Schedule описывает окно активности аккаунта и параметры симуляции сна.
type Schedule struct {
	StartTime      time.Duration // смещение от полуночи в TZ аккаунта
	EndTime        time.Duration
	ActiveWeekdays map[time.Weekday]bool
	TZ             *time.Location
	SleepEnabled   bool
	SleepBaseHour  int           // 0..23
	SleepDuration  time.Duration // базовая длительность сна, фактическая ±~1ч
}

// Limits — ручки скорости одного аккаунта.
type Limits struct {
	MaxNewConvosPerDay  int
	MaxOutreachPerHour  int
	MaxResponsesPerHour int
	MinInterMsgDelay    time.Duration
	MaxInterMsgDelay    time.Duration
	MaxActiveDialogues  int
}

// Counters — изменяемые счётчики активности аккаунта.
type Counters struct {
	HourlyOutreachSent      int
	HourlyResponsesSent     int
	DailyConversationsStart int
	LifetimeMessagesSent    int
	LifetimeConversations   int
	LastHourlyResetAt       time.Time
	LastDailyResetAt        time.Time
}

// Account — корневой агрегат учётной записи.
type Account struct {
	ID                uuid.UUID
	Phone             string
	EncryptedSession  []byte
	ProxyID           *uuid.UUID
	TelegramAppID     uuid.UUID
	Status            Status
	Schedule          Schedule
	Limits            Limits
	Counters          Counters
	CampaignID        *uuid.UUID
	LastActivityAt    time.Time
	Version           int
}

// HasSession сообщает, достаточно ли у аккаунта данных сессии, чтобы перейти в ready.
func (a *Account) HasSession() bool {
	return len(a.EncryptedSession) > 0
}

// DailyResetHour — детерминированный час (0..23) ежедневного сброса счётчиков аккаунта.
// Вычисляется как int(md5(account_id)[:2], 16) % 24, где
// md5(account_id) хэширует ТЕКСТОВОЕ представление UUID (как и исходная
// миграция: md5(id::text)), а "[:2]" — первые два hex-символа, то есть один
// байт, а не 16-битное слово (миграция явно приводит результат к ::bit(8)).
func DailyResetHour(id uuid.UUID) int {
	sum := md5.Sum([]byte(id.String())) //nolint:gosec // не криптографическое применение, только распределение по часам
	return int(sum[0]) % 24
}

// SleepOffset возвращает детерминированный сдвиг окна сна аккаунта в
// диапазоне [-2h, +2h), выведенный из его идентификатора.
// Хэшируется та же текстовая форма UUID, что и в DailyResetHour, для единообразия,
// но из других байт сигнатуры, чтобы сдвиг сна и час сброса не коррелировали.
func SleepOffset(id uuid.UUID) time.Duration {
	sum := md5.Sum([]byte(id.String())) //nolint:gosec // тот же детерминированный хэш распределения
	v := binary.BigEndian.Uint16(sum[2:4])
	// нормализуем 16-битное значение в диапазон [-120, 120) минут
	minutes := int(v)%240 - 120
	return time.Duration(minutes) * time.Minute
}

// TimingVariance — множитель дрожания фоновой активности, тоже выводится
// детерминированно из id аккаунта, чтобы аккаунты не «дышали» синхронно.
func TimingVariance(id uuid.UUID, variance float64) float64 {
	sum := md5.Sum(id[:]) //nolint:gosec // детерминированное распределение, не криптография
	v := binary.BigEndian.Uint16(sum[4:6])
	frac := float64(v) / float64(1<<16) // [0,1)
	return 1 - variance + frac*2*variance
}
