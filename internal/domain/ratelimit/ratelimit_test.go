package ratelimit_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/ratelimit"
)

func baseSnapshot() ratelimit.Snapshot {
	return ratelimit.Snapshot{
		ID:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Status: account.StatusActive,
		Limits: account.Limits{
			MaxOutreachPerHour:  10,
			MaxResponsesPerHour: 10,
			MaxNewConvosPerDay:  5,
		},
	}
}

func TestCanSendOutreach(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		mod  func(*ratelimit.Snapshot)
		want bool
	}{
		{
			name: "activeUnderLimit",
			mod:  func(s *ratelimit.Snapshot) {},
			want: true,
		},
		{
			name: "notActive",
			mod:  func(s *ratelimit.Snapshot) { s.Status = account.StatusPaused },
			want: false,
		},
		{
			name: "overHourlyLimit",
			mod:  func(s *ratelimit.Snapshot) { s.Counters.HourlyOutreachSent = 10 },
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := baseSnapshot()
			tc.mod(&s)
			got := ratelimit.CanSendOutreach(s, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
			if got != tc.want {
				t.Fatalf("CanSendOutreach() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCanStartConversation(t *testing.T) {
	t.Parallel()

	s := baseSnapshot()
	s.Counters.DailyConversationsStart = 5 // == max

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if ratelimit.CanStartConversation(s, now) {
		t.Fatal("CanStartConversation() = true, want false at daily cap")
	}
}

func TestInScheduleWindow(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		start time.Duration
		end   time.Duration
		hour  int
		want  bool
	}{
		{name: "dayWindowInside", start: 8 * time.Hour, end: 22 * time.Hour, hour: 12, want: true},
		{name: "dayWindowOutside", start: 8 * time.Hour, end: 22 * time.Hour, hour: 23, want: false},
		{name: "overnightWindowInside", start: 22 * time.Hour, end: 6 * time.Hour, hour: 2, want: true},
		{name: "overnightWindowOutside", start: 22 * time.Hour, end: 6 * time.Hour, hour: 12, want: false},
		{name: "unconfiguredWindowAlwaysInside", start: 0, end: 0, hour: 3, want: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s := baseSnapshot()
			s.Schedule.StartTime = tc.start
			s.Schedule.EndTime = tc.end
			now := time.Date(2026, 7, 31, tc.hour, 0, 0, 0, time.UTC)
			got := ratelimit.InScheduleWindow(s, now)
			if got != tc.want {
				t.Fatalf("InScheduleWindow() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDueForDailyReset(t *testing.T) {
	t.Parallel()

	s := baseSnapshot()
	resetHour := account.DailyResetHour(s.ID)
	s.Counters.DailyConversationsStart = 2

	now := time.Date(2026, 7, 31, resetHour, 30, 0, 0, time.UTC)
	if !ratelimit.DueForDailyReset(s, now) {
		t.Fatal("DueForDailyReset() = false, want true at the account's reset hour with positive count")
	}

	otherHour := (resetHour + 1) % 24
	now2 := time.Date(2026, 7, 31, otherHour, 30, 0, 0, time.UTC)
	if ratelimit.DueForDailyReset(s, now2) {
		t.Fatal("DueForDailyReset() = true, want false outside the account's reset hour")
	}
}
