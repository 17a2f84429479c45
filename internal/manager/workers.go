package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/worker"
)

// startWorker builds and starts a worker.Worker for accountID, registering
// it under campaignID so distributeTargets can find it as an "available
// worker" for that campaign. A failed start never registers the worker.
func (m *Manager) startWorker(ctx context.Context, accountID, campaignID uuid.UUID) error {
	if m.isRunning(accountID) {
		return nil
	}

	w := worker.New(accountID, worker.Params{
		AccountRepo:   m.p.AccountRepo,
		ProxyRepo:     m.p.ProxyRepo,
		AppRepo:       m.p.AppRepo,
		ProxyRegistry: m.p.ProxyRegistry,
		Vault:         m.p.Vault,
		Queue:         m.p.Queue,
		DialogueRepo:  m.p.DialogueRepo,
		CampaignRepo:  m.p.CampaignRepo,
		TargetRepo:    m.p.TargetRepo,
		WarmupRepo:    m.p.WarmupRepo,
		Processor:     m.p.Processor,
		LLM:           m.p.LLM,
		Results:       m.p.Results,
		Rng:           m.p.Rng,
	})

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("manager: start worker for account %s: %w", accountID, err)
	}

	m.mu.Lock()
	m.workers[accountID] = &trackedWorker{w: w, campaignID: campaignID}
	m.mu.Unlock()

	logger.Infof("manager: worker started for account %s (campaign %s)", accountID, campaignID)
	return nil
}

// stopWorker stops and unregisters the worker for accountID, if any.
func (m *Manager) stopWorker(accountID uuid.UUID) {
	m.mu.Lock()
	tw, ok := m.workers[accountID]
	if ok {
		delete(m.workers, accountID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	tw.w.Stop(context.Background())
	logger.Infof("manager: worker stopped for account %s", accountID)
}

func (m *Manager) isRunning(accountID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.workers[accountID]
	return ok
}

// workersForCampaign returns the workers currently tracked under
// campaignID, a snapshot safe to range over without holding the lock.
func (m *Manager) workersForCampaign(campaignID uuid.UUID) []*worker.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*worker.Worker, 0, len(m.workers))
	for _, tw := range m.workers {
		if tw.campaignID == campaignID {
			out = append(out, tw.w)
		}
	}
	return out
}

// runningAccountIDs returns every account id with a tracked worker.
func (m *Manager) runningAccountIDs() map[uuid.UUID]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool, len(m.workers))
	for id := range m.workers {
		out[id] = true
	}
	return out
}
