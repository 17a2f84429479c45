package warmup_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/warmup"
)

func threeStageProfile() *warmup.Profile {
	return &warmup.Profile{
		ID:   uuid.New(),
		Name: "default",
		Stages: []warmup.Stage{
			{Index: 0, MinDays: 0, DailyCaps: map[string]int{"join": 1}},
			{Index: 1, MinDays: 3, DailyCaps: map[string]int{"join": 2, "react": 3}},
			{Index: 2, MinDays: 7, DailyCaps: map[string]int{"join": 3, "react": 5}, CanOutreach: true},
		},
	}
}

func TestStageForElapsedDays(t *testing.T) {
	t.Parallel()

	p := threeStageProfile()
	cases := []struct {
		days int
		want int
	}{
		{0, 0},
		{1, 0},
		{2, 0},
		{3, 1},
		{6, 1},
		{7, 2},
		{30, 2}, // за пределами расписания — последний этап
	}
	for _, tc := range cases {
		if got := p.StageFor(tc.days); got != tc.want {
			t.Errorf("StageFor(%d) = %d, want %d", tc.days, got, tc.want)
		}
	}
}

func TestIsLastStage(t *testing.T) {
	t.Parallel()

	p := threeStageProfile()
	if p.IsLastStage(0) || p.IsLastStage(1) {
		t.Fatal("IsLastStage() = true for intermediate stages")
	}
	if !p.IsLastStage(2) {
		t.Fatal("IsLastStage(2) = false, want true")
	}
}

func TestFloodWait(t *testing.T) {
	t.Parallel()

	w := &warmup.AccountWarmup{Status: warmup.StatusActive}
	now := time.Now()

	if w.InFloodWait(now) {
		t.Fatal("InFloodWait() = true before any flood")
	}
	w.ApplyFlood(now, 60)
	if !w.InFloodWait(now.Add(30 * time.Second)) {
		t.Fatal("InFloodWait() = false inside the wait window")
	}
	if w.InFloodWait(now.Add(61 * time.Second)) {
		t.Fatal("InFloodWait() = true after the wait elapsed")
	}
}

func TestCanOutreachOnlyWhenCompleted(t *testing.T) {
	t.Parallel()

	w := &warmup.AccountWarmup{Status: warmup.StatusActive}
	if w.CanOutreach() {
		t.Fatal("CanOutreach() = true during active warm-up")
	}
	w.Status = warmup.StatusCompleted
	if !w.CanOutreach() {
		t.Fatal("CanOutreach() = false after completion")
	}
}

func TestResetDaily(t *testing.T) {
	t.Parallel()

	w := &warmup.AccountWarmup{DailyCounters: map[string]int{"join": 2, "react": 5}}
	w.ResetDaily()
	if len(w.DailyCounters) != 0 {
		t.Fatalf("DailyCounters after reset = %v, want empty", w.DailyCounters)
	}
}

func TestPersonaActiveHours(t *testing.T) {
	t.Parallel()

	day := &warmup.Persona{ActiveHourStart: 9, ActiveHourEnd: 22}
	if !day.InActiveHours(12) || day.InActiveHours(23) || day.InActiveHours(8) {
		t.Fatal("day persona active-hours check failed")
	}

	night := &warmup.Persona{ActiveHourStart: 22, ActiveHourEnd: 6}
	if !night.InActiveHours(23) || !night.InActiveHours(2) || night.InActiveHours(12) {
		t.Fatal("overnight persona active-hours check failed")
	}
}

func TestPersonaTypingDuration(t *testing.T) {
	t.Parallel()

	p := &warmup.Persona{TypingCharsPerSec: 5}
	if got := p.TypingDuration(50); got != 10*time.Second {
		t.Fatalf("TypingDuration(50) = %v, want 10s", got)
	}
	zero := &warmup.Persona{}
	if got := zero.TypingDuration(50); got != 0 {
		t.Fatalf("TypingDuration with zero speed = %v, want 0", got)
	}
}
