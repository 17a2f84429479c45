package manager

import (
	"context"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/infra/logger"
)

// syncWithDB reconciles the fleet with the account table: stop workers whose account
// is no longer active, and start workers for newly-activated eligible
// accounts, respecting MaxFleetSize.
func (m *Manager) syncWithDB(ctx context.Context) {
	accounts, err := m.p.AccountRepo.ListActive(ctx)
	if err != nil {
		logger.Errorf("manager: sync with db: list active accounts: %v", err)
		return
	}

	eligible := make(map[uuid.UUID]*account.Account, len(accounts))
	for _, acc := range accounts {
		if acc.HasSession() && acc.CampaignID != nil {
			eligible[acc.ID] = acc
		}
	}

	running := m.runningAccountIDs()
	for id := range running {
		if eligible[id] == nil {
			logger.Infof("manager: sync with db: account %s no longer eligible, stopping worker", id)
			m.stopWorker(id)
		}
	}

	for id, acc := range eligible {
		if running[id] {
			continue
		}
		if m.fleetSize() >= m.p.MaxFleetSize {
			logger.Warnf("manager: sync with db: max fleet size %d reached, account %s stays unstarted", m.p.MaxFleetSize, id)
			continue
		}
		if err := m.startWorker(ctx, acc.ID, *acc.CampaignID); err != nil {
			logger.Errorf("manager: sync with db: start account %s failed: %v", acc.ID, err)
		}
	}
}
