package account_test

import (
	"crypto/md5" //nolint:gosec // сверка детерминированной формулы, не криптография
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
)

func TestDailyResetHourMatchesFormula(t *testing.T) {
	t.Parallel()

	for range 50 {
		id := uuid.New()
		sum := md5.Sum([]byte(id.String())) //nolint:gosec
		want := int(sum[0]) % 24
		if got := account.DailyResetHour(id); got != want {
			t.Fatalf("DailyResetHour(%s) = %d, want %d", id, got, want)
		}
	}
}

func TestDailyResetHourDeterministic(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	first := account.DailyResetHour(id)
	for range 10 {
		if got := account.DailyResetHour(id); got != first {
			t.Fatalf("DailyResetHour not deterministic: %d then %d", first, got)
		}
	}
}

func TestDailyResetHourDistribution(t *testing.T) {
	t.Parallel()

	const n = 1000
	counts := make([]int, 24)
	for range n {
		counts[account.DailyResetHour(uuid.New())]++
	}

	// Ожидаем ~42 аккаунта на час; границы широкие, чтобы выборочный шум
	// случайных UUID не делал тест флаки.
	expected := float64(n) / 24
	lo, hi := expected*0.4, expected*1.7
	for h, c := range counts {
		if float64(c) < lo || float64(c) > hi {
			t.Errorf("hour %d got %d accounts, want within [%.0f, %.0f]", h, c, lo, hi)
		}
	}
}

func TestSleepOffsetRange(t *testing.T) {
	t.Parallel()

	for range 200 {
		id := uuid.New()
		off := account.SleepOffset(id)
		if off < -2*time.Hour || off >= 2*time.Hour {
			t.Fatalf("SleepOffset(%s) = %v, want [-2h, +2h)", id, off)
		}
		if off != account.SleepOffset(id) {
			t.Fatalf("SleepOffset not deterministic for %s", id)
		}
	}
}

func TestTimingVarianceRange(t *testing.T) {
	t.Parallel()

	const variance = 0.3
	for range 200 {
		id := uuid.New()
		v := account.TimingVariance(id, variance)
		if v < 1-variance || v >= 1+variance {
			t.Fatalf("TimingVariance(%s) = %v, want [%v, %v)", id, v, 1-variance, 1+variance)
		}
	}
}

func TestHasSession(t *testing.T) {
	t.Parallel()

	a := &account.Account{}
	if a.HasSession() {
		t.Fatal("HasSession() = true without session bytes")
	}
	a.EncryptedSession = []byte{1, 2, 3}
	if !a.HasSession() {
		t.Fatal("HasSession() = false with session bytes")
	}
}
