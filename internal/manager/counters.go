package manager

import (
	"context"
	"time"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/ratelimit"
	"telegram-fleet/internal/infra/logger"
)

// snapshotFor builds the Snapshot ratelimit's counter-reset predicates need
// from a persisted Account — the same shape internal/worker builds for its
// own gating checks.
func snapshotFor(acc *account.Account) ratelimit.Snapshot {
	return ratelimit.Snapshot{
		ID:       acc.ID,
		Status:   acc.Status,
		Limits:   acc.Limits,
		Counters: acc.Counters,
		Schedule: acc.Schedule,
	}
}

// resetHourlyCounters is the hourly counter-reset job: bulk set
// hourly_outreach=0, hourly_responses=0 for every account with a positive
// hourly count.
func (m *Manager) resetHourlyCounters(ctx context.Context) {
	accounts, err := m.p.AccountRepo.ListActive(ctx)
	if err != nil {
		logger.Errorf("manager: hourly counter reset: list active accounts: %v", err)
		return
	}

	reset := 0
	for _, acc := range accounts {
		snap := snapshotFor(acc)
		if !ratelimit.DueForHourlyReset(snap) {
			continue
		}
		acc.Counters.HourlyOutreachSent = 0
		acc.Counters.HourlyResponsesSent = 0
		acc.Counters.LastHourlyResetAt = time.Now()
		if err := m.p.AccountRepo.Save(ctx, acc); err != nil {
			logger.Errorf("manager: hourly counter reset: save account %s: %v", acc.ID, err)
			continue
		}
		reset++
	}
	if reset > 0 {
		logger.Infof("manager: hourly counter reset applied to %d accounts", reset)
	}
}

// resetDailyCounters is the daily counter-reset job: fires every
// minute but is idempotent per account — only accounts whose
// daily_reset_hour matches the current UTC hour and are due get reset.
func (m *Manager) resetDailyCounters(ctx context.Context) {
	accounts, err := m.p.AccountRepo.ListActive(ctx)
	if err != nil {
		logger.Errorf("manager: daily counter reset: list active accounts: %v", err)
		return
	}

	now := time.Now()
	reset := 0
	for _, acc := range accounts {
		snap := snapshotFor(acc)
		if !ratelimit.DueForDailyReset(snap, now) {
			continue
		}
		acc.Counters.DailyConversationsStart = 0
		acc.Counters.LastDailyResetAt = now
		if err := m.p.AccountRepo.Save(ctx, acc); err != nil {
			logger.Errorf("manager: daily counter reset: save account %s: %v", acc.ID, err)
			continue
		}
		reset++
	}
	if reset > 0 {
		logger.Infof("manager: daily counter reset applied to %d accounts", reset)
	}
}
