package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/domain/ratelimit"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/worker"
)

// distributeTargets is the target-distribution job: for each
// active, batch-due campaign, read up to TargetBatchLimit pending targets
// and round-robin enqueue a send-first-message task per target across the
// campaign's available workers (running AND can_start_conversation),
// marking each target assigned. Campaigns with no available worker this
// round are skipped entirely — their targets stay pending for the next tick.
func (m *Manager) distributeTargets(ctx context.Context) {
	campaigns, err := m.p.CampaignRepo.ListActive(ctx)
	if err != nil {
		logger.Errorf("manager: distribute targets: list active campaigns: %v", err)
		return
	}

	for _, c := range campaigns {
		if !c.DueForBatch(time.Now()) {
			continue
		}
		m.distributeForCampaign(ctx, c)
	}
}

func (m *Manager) distributeForCampaign(ctx context.Context, c *campaign.Campaign) {
	available := m.availableWorkers(ctx, c.ID)
	if len(available) == 0 {
		return
	}

	targets, err := m.p.TargetRepo.ListPending(ctx, c.ID, m.p.TargetBatchLimit)
	if err != nil {
		logger.Errorf("manager: distribute targets: list pending for campaign %s: %v", c.ID, err)
		return
	}
	if len(targets) == 0 {
		return
	}

	assigned := 0
	for i, t := range targets {
		w := available[i%len(available)]
		task := queue.NewTask(queue.TypeSendFirstMessage, w.AccountID, c.ID, t.Identifier())
		task.TargetID = &t.ID
		if err := m.p.Queue.Enqueue(ctx, task, false); err != nil {
			logger.Errorf("manager: distribute targets: enqueue for account %s: %v", w.AccountID, err)
			continue
		}

		// No Dialogue exists yet — the worker creates one when it processes
		// the send-first-message task. Only the funnel status moves
		// here; UserTarget.Assign links a dialogue id, which doesn't exist
		// yet, so the status is set directly.
		t.Status = campaign.TargetAssigned
		if err := m.p.TargetRepo.Save(ctx, t); err != nil {
			logger.Errorf("manager: distribute targets: save assigned target %s: %v", t.ID, err)
			continue
		}
		assigned++
	}

	if assigned > 0 {
		c.Sending.LastBatchAt = time.Now()
		if err := m.p.CampaignRepo.Save(ctx, c); err != nil {
			logger.Errorf("manager: distribute targets: save campaign %s batch stamp: %v", c.ID, err)
		}
		logger.Infof("manager: distributed %d targets for campaign %s across %d workers", assigned, c.ID, len(available))
	}
}

// availableWorkers filters the campaign's tracked workers down to the ones
// that are running and whose account currently admits a new conversation.
func (m *Manager) availableWorkers(ctx context.Context, campaignID uuid.UUID) []*worker.Worker {
	candidates := m.workersForCampaign(campaignID)
	available := make([]*worker.Worker, 0, len(candidates))
	now := time.Now()
	for _, w := range candidates {
		if !w.GetStats().Running {
			continue
		}
		acc, err := m.p.AccountRepo.Get(ctx, w.AccountID)
		if err != nil {
			logger.Warnf("manager: distribute targets: refresh account %s: %v", w.AccountID, err)
			continue
		}
		snap := ratelimit.Snapshot{
			ID:       acc.ID,
			Status:   acc.Status,
			Limits:   acc.Limits,
			Counters: acc.Counters,
			Schedule: acc.Schedule,
		}
		if ratelimit.CanStartConversation(snap, now) {
			available = append(available, w)
		}
	}
	return available
}
