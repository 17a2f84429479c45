// Package worker implements the account actor: one goroutine tree per
// Telegram account, owning exactly one MTProto connection and driving the
// account's outreach, inbound-response, warm-up and background-activity
// loops. The lifecycle is an ordered start/stop sequence with every
// sub-loop tracked by a sync.WaitGroup and torn down by context
// cancellation; many such goroutine trees run concurrently under
// internal/manager.
package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/batcher"
	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/dialogueproc"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/domain/warmup"
	"telegram-fleet/internal/infra/proxy"
	"telegram-fleet/internal/infra/telegram"
	"telegram-fleet/internal/infra/vault"
)

// Params carries every dependency a Worker needs, injected by
// internal/manager at construction time. The worker only sees narrow
// interfaces; tests substitute in-memory fakes for all of them.
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
}

// dequeueTimeout bounds each blocking Dequeue call, so an empty queue hands
// control back to the main loop, which checks ctx.Done() and the
// sleep-window/schedule gates on its next iteration.
const dequeueTimeout = 5 * time.Second

// stopDeadline bounds how long Stop waits for the main loop and the client
// disconnect; the client disconnect carries its own equal deadline.
const stopDeadline = 5 * time.Second

// Worker is one account's actor. Exactly one run-loop exists per account at
// a time; internal/manager enforces that invariant by keying its worker map
// on AccountID.
type Worker struct {
	AccountID uuid.UUID

	p Params

	client *telegram.Client
	proxy  *account.Proxy

	mu           sync.Mutex
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	explicitStop bool

	batcher *batcher.Batcher

	dialogues dialogueLocks

	warmupState   *warmup.AccountWarmup
	warmupProfile *warmup.Profile
	persona       *warmup.Persona
	warmupNextAt  time.Time

	statsMu sync.Mutex
	stats   Stats
}

// Stats is the per-worker operational snapshot exposed through
// internal/manager's GetStats.
type Stats struct {
	AccountID               uuid.UUID
	Running                 bool
	MessagesSent            int64
	Errors                  int64
	LastMessageAt           time.Time
	WarmupStage             int
	WarmupStatus            warmup.Status
	BackgroundActivityCount int64
	TimingOffset            float64
}

// New builds a Worker for accountID. Call Start to bring up its MTProto
// connection and sub-loops.
func New(accountID uuid.UUID, p Params) *Worker {
	w := &Worker{
		AccountID: accountID,
		p:         p,
		dialogues: newDialogueLocks(),
	}
	w.stats.AccountID = accountID
	w.stats.TimingOffset = account.TimingVariance(accountID, backgroundVariance)
	return w
}

// GetStats returns a point-in-time copy of the worker's stats.
func (w *Worker) GetStats() Stats {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

func (w *Worker) recordSent() {
	w.statsMu.Lock()
	w.stats.MessagesSent++
	w.stats.LastMessageAt = time.Now()
	w.statsMu.Unlock()
}

func (w *Worker) recordError() {
	w.statsMu.Lock()
	w.stats.Errors++
	w.statsMu.Unlock()
}

func (w *Worker) recordBackgroundActivity() {
	w.statsMu.Lock()
	w.stats.BackgroundActivityCount++
	w.statsMu.Unlock()
}

func (w *Worker) recordWarmup() {
	w.statsMu.Lock()
	if w.warmupState != nil {
		w.stats.WarmupStage = w.warmupState.Stage
		w.stats.WarmupStatus = w.warmupState.Status
	}
	w.statsMu.Unlock()
}

func (w *Worker) setRunning(running bool) {
	w.statsMu.Lock()
	w.stats.Running = running
	w.statsMu.Unlock()
}
