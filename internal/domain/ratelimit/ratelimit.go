// Package ratelimit содержит чистые предикаты допуска: разрешено ли
// аккаунту начать outreach, ответить пользователю или начать новую беседу, а
// также определение окон расписания и сна. Всё здесь — чистые функции над
// снимком состояния аккаунта, без побочных эффектов и без ввода-вывода —
// это то, что делает их тривиально тестируемыми.
package ratelimit

import (
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
)

// sleepHoursBase — базовая длительность окна сна в часах.
const sleepHoursBase = 7 * time.Hour
const sleepHoursJitter = 1 * time.Hour

// Snapshot — неизменяемый срез состояния аккаунта, нужный предикатам допуска.
// Строится вызывающей стороной (воркером) из актуального account.Account.
type Snapshot struct {
	ID       uuid.UUID
	Status   account.Status
	Limits   account.Limits
	Counters account.Counters
	Schedule account.Schedule
}

// CanSendOutreach — status=active AND hourly_outreach < max_outreach AND
// NOT in_sleep_window().
func CanSendOutreach(s Snapshot, now time.Time) bool {
	return s.Status == account.StatusActive &&
		s.Counters.HourlyOutreachSent < s.Limits.MaxOutreachPerHour &&
		!InSleepWindow(s, now)
}

// CanRespond — status=active AND hourly_responses < max_responses.
func CanRespond(s Snapshot) bool {
	return s.Status == account.StatusActive &&
		s.Counters.HourlyResponsesSent < s.Limits.MaxResponsesPerHour
}

// CanStartConversation — can_send_outreach() AND daily_conversations <
// max_new_convos_per_day.
func CanStartConversation(s Snapshot, now time.Time) bool {
	return CanSendOutreach(s, now) &&
		s.Counters.DailyConversationsStart < s.Limits.MaxNewConvosPerDay
}

// InScheduleWindow сообщает, находится ли now (в TZ аккаунта) внутри окна
// [start_time, end_time] и активного дня недели, с поддержкой ночных окон, где
// start > end.
func InScheduleWindow(s Snapshot, now time.Time) bool {
	sch := s.Schedule
	loc := sch.TZ
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	if len(sch.ActiveWeekdays) > 0 && !sch.ActiveWeekdays[local.Weekday()] {
		return false
	}

	// Ненастроенное окно (start == end == 0) означает "без ограничений",
	// а не "одна секунда в полночь".
	if sch.StartTime == 0 && sch.EndTime == 0 {
		return true
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	elapsed := local.Sub(midnight)

	if sch.StartTime <= sch.EndTime {
		return elapsed >= sch.StartTime && elapsed <= sch.EndTime
	}
	// ночное окно, пересекающее полночь
	return elapsed >= sch.StartTime || elapsed <= sch.EndTime
}

// InSleepWindow сообщает, находится ли аккаунт в симулированном окне сна:
// ~sleep_hours ± 1h, начиная с sleep_base_hour + offset(account) + daily_jitter.
// offset(account) — детерминированный сдвиг account.SleepOffset;
// daily_jitter берётся из Schedule.SleepDuration относительно базовой
// длительности окна.
func InSleepWindow(s Snapshot, now time.Time) bool {
	sch := s.Schedule
	if !sch.SleepEnabled {
		return false
	}
	loc := sch.TZ
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)

	offset := account.SleepOffset(s.ID)
	start := time.Duration(sch.SleepBaseHour)*time.Hour + offset
	duration := sleepHoursBase
	if sch.SleepDuration > 0 {
		duration = sch.SleepDuration
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	windowStart := midnight.Add(start)
	windowEnd := windowStart.Add(duration)

	if local.Before(windowStart) {
		// окно могло начаться вчера и переходить через полночь
		windowStart = windowStart.Add(-24 * time.Hour)
		windowEnd = windowStart.Add(duration)
	}
	return !local.Before(windowStart) && local.Before(windowEnd)
}

// DueForDailyReset сообщает, нужно ли в этот проход обнулять
// daily_conversations_started: daily_reset_hour == current_utc_hour AND
// (count>0 OR last reset was on a previous calendar day).
func DueForDailyReset(s Snapshot, now time.Time) bool {
	resetHour := account.DailyResetHour(s.ID)
	if now.UTC().Hour() != resetHour {
		return false
	}
	if s.Counters.DailyConversationsStart > 0 {
		return true
	}
	last := s.Counters.LastDailyResetAt
	return last.IsZero() || !sameUTCDay(last, now)
}

// DueForHourlyReset сообщает, нужно ли обнулять почасовые счётчики: любой из
// них положителен.
func DueForHourlyReset(s Snapshot) bool {
	return s.Counters.HourlyOutreachSent > 0 || s.Counters.HourlyResponsesSent > 0
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
