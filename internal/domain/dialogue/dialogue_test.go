package dialogue_test

import (
	"testing"
	"time"

	"telegram-fleet/internal/domain/dialogue"
)

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status dialogue.Status
		want   bool
	}{
		{dialogue.StatusPending, false},
		{dialogue.StatusInitiated, false},
		{dialogue.StatusActive, false},
		{dialogue.StatusGoalReached, false},
		{dialogue.StatusPaused, false},
		{dialogue.StatusCompleted, true},
		{dialogue.StatusFailed, true},
		{dialogue.StatusExpired, true},
	}
	for _, tc := range cases {
		if got := tc.status.Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestAddInterestSaturates(t *testing.T) {
	t.Parallel()

	d := &dialogue.Dialogue{}
	d.AddInterest(7)
	if d.InterestScore != 7 {
		t.Fatalf("InterestScore = %d, want 7", d.InterestScore)
	}
	d.AddInterest(100)
	if d.InterestScore != 20 {
		t.Fatalf("InterestScore after overflow = %d, want 20", d.InterestScore)
	}
	d.AddInterest(-100)
	if d.InterestScore != 0 {
		t.Fatalf("InterestScore after underflow = %d, want 0", d.InterestScore)
	}
}

func TestMarkGoalReached(t *testing.T) {
	t.Parallel()

	d := &dialogue.Dialogue{Status: dialogue.StatusActive}
	at := time.Now()
	d.MarkGoalReached(at)

	if !d.GoalMessageSent {
		t.Fatal("GoalMessageSent = false")
	}
	if !d.GoalSentAt.Equal(at) {
		t.Fatalf("GoalSentAt = %v, want %v", d.GoalSentAt, at)
	}
	if d.LinkSentCount != 1 {
		t.Fatalf("LinkSentCount = %d, want 1", d.LinkSentCount)
	}
	if d.Status != dialogue.StatusGoalReached {
		t.Fatalf("Status = %s, want goal_reached", d.Status)
	}

	// Повторная отправка ссылки инкрементирует счётчик, не ломая статус.
	d.MarkGoalReached(at.Add(time.Minute))
	if d.LinkSentCount != 2 {
		t.Fatalf("LinkSentCount after repeat = %d, want 2", d.LinkSentCount)
	}
}

func TestMarkFailedKeepsReason(t *testing.T) {
	t.Parallel()

	d := &dialogue.Dialogue{Status: dialogue.StatusActive}
	d.MarkFailed("media_spam")
	if d.Status != dialogue.StatusFailed {
		t.Fatalf("Status = %s, want failed", d.Status)
	}
	if d.FailReason != "media_spam" {
		t.Fatalf("FailReason = %q, want media_spam", d.FailReason)
	}
	if !d.Status.Terminal() {
		t.Fatal("failed dialogue must be terminal")
	}
}

func TestMarkHandoff(t *testing.T) {
	t.Parallel()

	d := &dialogue.Dialogue{Status: dialogue.StatusActive}
	d.MarkHandoff()
	if d.Status != dialogue.StatusPaused {
		t.Fatalf("Status = %s, want paused", d.Status)
	}
	if !d.NeedsReview {
		t.Fatal("NeedsReview = false, want true")
	}
	if d.Status.Terminal() {
		t.Fatal("handoff pause must not be terminal: оператор может вернуть диалог")
	}
}
