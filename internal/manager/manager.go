// Package manager implements the worker manager / scheduler: the
// single-process reconciler that mirrors live internal/worker.Worker actors
// against the persisted account table, distributes campaign targets into
// their per-account queues, and runs the periodic jobs (ordered startup and
// shutdown), scaled to "one process, many account actors". Each periodic job
// is its own internal/infra/lifecycle node, independently cancellable, with
// its own ticker goroutine and sync.WaitGroup; nodes start in registration
// order and stop in reverse.
package manager

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/dialogueproc"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/domain/warmup"
	"telegram-fleet/internal/infra/lifecycle"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/proxy"
	"telegram-fleet/internal/infra/vault"
	"telegram-fleet/internal/worker"
)

// The DB-facing job periods (distribute, health, sync) are operator-tunable
// via Params; the two reset periods are not. The daily reset deliberately
// fires every minute and stays idempotent per account rather than running
// exactly hourly. The first run after a deploy resets every account whose
// last reset is unrecorded; that mass reset is intentional.
const (
	hourlyResetInterval = time.Hour
	dailyResetInterval  = time.Minute
)

// bootstrapSettle is the pause between starting the initial fleet
// and running the first target distribution.
const bootstrapSettle = 5 * time.Second

// Params carries every dependency the manager needs to build and run
// workers and its own periodic jobs, same narrow-interface shape as
// worker.Params.
type Params struct {
	AccountRepo   account.Repository
	ProxyRepo     account.ProxyRepository
	AppRepo       account.TelegramAppRepository
	ProxyRegistry *proxy.Registry
	Vault         *vault.Vault
	Queue         queue.Store
	DialogueRepo  dialogue.Repository
	CampaignRepo  campaign.Repository
	TargetRepo    campaign.TargetRepository
	WarmupRepo    warmup.Repository
	Processor     *dialogueproc.Processor
	LLM           dialogueproc.Provider
	Results       *campaign.ResultWriter
	Rng           *rand.Rand

	// ProxyChecker is optional; when set, the manager runs its periodic
	// proxy health sweep as one more lifecycle node.
	ProxyChecker *proxy.HealthChecker

	MaxFleetSize        int
	WorkerSpacing       time.Duration
	TargetBatchLimit    int
	DistributeInterval  time.Duration
	HealthCheckInterval time.Duration
	DBSyncInterval      time.Duration
	ProxyCheckInterval  time.Duration
}

// trackedWorker pairs a running worker.Worker with the campaign it was
// started for, so distributeTargets can find "available workers" per
// campaign without re-deriving it from the DB on every tick.
type trackedWorker struct {
	w          *worker.Worker
	campaignID uuid.UUID
}

// Manager reconciles the live worker fleet against persisted account state
// and runs the periodic jobs. One instance per process — horizontal
// sharding of the manager itself is an explicit non-goal.
type Manager struct {
	p  Params
	lc *lifecycle.Manager

	mu      sync.Mutex
	workers map[uuid.UUID]*trackedWorker
}

// New builds a Manager. Call Start to bring up the fleet and periodic jobs.
func New(p Params) *Manager {
	if p.Rng == nil {
		p.Rng = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // humanization jitter, not security
	}
	return &Manager{
		p:       p,
		workers: make(map[uuid.UUID]*trackedWorker),
	}
}

// Start brings the manager up: connect to the queue (recover
// in-flight tasks), start a worker for every account that is active, has a
// session and is attached to a campaign (spaced by WorkerSpacing to avoid a
// Telegram stampede), settle, run the first target distribution, then
// register and start every periodic job.
func (m *Manager) Start(ctx context.Context) error {
	m.lc = lifecycle.New(ctx)

	n, err := m.p.Queue.RecoverProcessingTasks(ctx)
	if err != nil {
		return err
	}
	logger.Infof("manager: recovered %d in-flight tasks from processing sets", n)

	if err := m.bootstrapFleet(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(bootstrapSettle):
	}

	m.distributeTargets(ctx)

	if err := m.registerJobs(); err != nil {
		return err
	}
	return m.lc.StartAll()
}

// Stop shuts the periodic jobs down in reverse start order, then stops every
// running worker one at a time, in no particular order.
func (m *Manager) Stop() {
	if m.lc != nil {
		if err := m.lc.Shutdown(); err != nil {
			logger.Errorf("manager: shutdown error: %v", err)
		}
	}

	m.mu.Lock()
	ids := make([]uuid.UUID, 0, len(m.workers))
	for id := range m.workers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.stopWorker(id)
	}
}

// bootstrapFleet fetches every account eligible to run (status active,
// session bytes present, attached to a campaign) and starts a worker for each,
// 0.5s apart.
func (m *Manager) bootstrapFleet(ctx context.Context) error {
	accounts, err := m.p.AccountRepo.ListActive(ctx)
	if err != nil {
		return err
	}

	started := 0
	for _, acc := range accounts {
		if !acc.HasSession() || acc.CampaignID == nil {
			continue
		}
		if m.fleetSize() >= m.p.MaxFleetSize {
			logger.Warnf("manager: max fleet size %d reached during bootstrap, %d accounts left unstarted",
				m.p.MaxFleetSize, len(accounts)-started)
			break
		}
		if err := m.startWorker(ctx, acc.ID, *acc.CampaignID); err != nil {
			logger.Errorf("manager: bootstrap start account %s failed: %v", acc.ID, err)
			continue
		}
		started++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.p.WorkerSpacing):
		}
	}
	logger.Infof("manager: bootstrap started %d/%d eligible accounts", started, len(accounts))
	return nil
}

func (m *Manager) fleetSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}
