package manager

import (
	"context"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/logger"
)

// healthCheck: any tracked worker whose
// run-loop ended on its own (superviseExit flipped Running false without an
// explicit Stop) is dropped and restarted from a fresh account snapshot.
func (m *Manager) healthCheck(ctx context.Context) {
	m.mu.Lock()
	dead := make([]trackedWorker, 0)
	for id, tw := range m.workers {
		if !tw.w.GetStats().Running {
			dead = append(dead, trackedWorker{w: tw.w, campaignID: tw.campaignID})
			delete(m.workers, id)
		}
	}
	m.mu.Unlock()

	for _, tw := range dead {
		accountID := tw.w.AccountID
		logger.Warnf("manager: worker for account %s found dead, restarting", accountID)

		acc, err := m.p.AccountRepo.Get(ctx, accountID)
		if err != nil {
			logger.Errorf("manager: health check: reload account %s failed: %v", accountID, err)
			continue
		}
		if acc.Status != account.StatusActive || !acc.HasSession() || acc.CampaignID == nil {
			logger.Infof("manager: health check: account %s no longer eligible, not restarting", accountID)
			continue
		}
		if err := m.startWorker(ctx, accountID, tw.campaignID); err != nil {
			logger.Errorf("manager: health check: restart account %s failed: %v", accountID, err)
		}
	}
}
