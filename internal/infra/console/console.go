// Package console implements fleetctl's interactive operator commands: a
// readline loop in its own goroutine, an idempotent Start/Stop pair, and a
// flat switch over command strings. The console reads and writes straight
// through the
// repository/queue interfaces, since fleetctl is a separate process from
// fleetd.
package console

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/pr"
)

type commandDescriptor struct {
	name        string
	description string
}

var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "status", description: "Show fleet-wide account/campaign counts"},
	{name: "workers", description: "List accounts currently marked active"},
	{name: "queue <account-id>", description: "Show queue stats for one account"},
	{name: "dlq", description: "Show dead-letter size across all active accounts"},
	{name: "reset-counters", description: "Force hourly+daily counter reset on every active account"},
	{name: "exit", description: "Stop the console"},
}

// Deps carries the narrow set of repositories the console reads and writes
// through — no manager, no worker, no live process state.
type Deps struct {
	AccountRepo  account.Repository
	CampaignRepo campaign.Repository
	Queue        queue.Store
}

// Service is the console's lifecycle wrapper.
type Service struct {
	deps Deps

	cancel  context.CancelFunc
	stopApp context.CancelFunc
	wg      sync.WaitGroup

	onceStart sync.Once
	onceStop  sync.Once
}

// NewService builds a console bound to deps.
func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// Start runs the read loop in its own goroutine. stopApp is called by the
// "exit" command and by Ctrl-C on an empty line.
func (s *Service) Start(ctx context.Context, stopApp context.CancelFunc) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.stopApp = stopApp
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(runCtx)
		}()
	})
}

// Stop cancels the read loop and waits for it to exit.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Service) run(ctx context.Context) {
	pr.SetPrompt("fleetctl> ")
	pr.Println("fleetctl started. Enter commands:", joinCommandNames())
	pr.Println("Type 'help' for detailed descriptions.")

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := pr.Rl().Readline()
		if err != nil {
			return
		}
		if s.handleCommand(ctx, strings.TrimSpace(line)) {
			return
		}
	}
}

func joinCommandNames() string {
	names := make([]string, 0, len(commandDescriptors))
	for _, d := range commandDescriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

func printHelp() {
	pr.Println("Available commands:")
	for _, d := range commandDescriptors {
		pr.Printf("  %-20s - %s\n", d.name, d.description)
	}
}

// handleCommand dispatches one line, returning true if the console should exit.
func (s *Service) handleCommand(ctx context.Context, cmd string) bool {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "help":
		printHelp()
	case "status":
		s.handleStatus(ctx)
	case "workers":
		s.handleWorkers(ctx)
	case "queue":
		if len(fields) < 2 {
			pr.ErrPrintln("usage: queue <account-id>")
			break
		}
		s.handleQueue(ctx, fields[1])
	case "dlq":
		s.handleDLQ(ctx)
	case "reset-counters":
		s.handleResetCounters(ctx)
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	default:
		pr.Println("unknown command:", fields[0])
	}
	return false
}

// handleStatus prints an account-status histogram plus active campaign
// count, read directly from persistence since fleetctl has no live manager
// to ask.
func (s *Service) handleStatus(ctx context.Context) {
	accounts, err := s.deps.AccountRepo.ListActive(ctx)
	if err != nil {
		pr.ErrPrintln("status: list accounts error:", err)
		return
	}
	campaigns, err := s.deps.CampaignRepo.ListActive(ctx)
	if err != nil {
		pr.ErrPrintln("status: list campaigns error:", err)
		return
	}

	counts := make(map[account.Status]int)
	for _, a := range accounts {
		counts[a.Status]++
	}
	pr.Printf("Active accounts: %d\n", len(accounts))
	for status, n := range counts {
		pr.Printf("  %-10s %d\n", status, n)
	}
	pr.Printf("Active campaigns: %d\n", len(campaigns))
}

func (s *Service) handleWorkers(ctx context.Context) {
	accounts, err := s.deps.AccountRepo.ListActive(ctx)
	if err != nil {
		pr.ErrPrintln("workers: list accounts error:", err)
		return
	}
	if len(accounts) == 0 {
		pr.Println("No active accounts.")
		return
	}
	for _, a := range accounts {
		campaignStr := "-"
		if a.CampaignID != nil {
			campaignStr = a.CampaignID.String()
		}
		pr.Printf("%s  phone=%s status=%-8s campaign=%s sent=%d\n",
			a.ID, a.Phone, a.Status, campaignStr, a.Counters.LifetimeMessagesSent)
	}
}

func (s *Service) handleQueue(ctx context.Context, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		pr.ErrPrintln("queue: invalid account id:", err)
		return
	}
	st, err := s.deps.Queue.Stats(ctx, id)
	if err != nil {
		pr.ErrPrintln("queue: stats error:", err)
		return
	}
	pr.Printf("account=%s enqueued=%d completed=%d failed=%d dlq=%d\n",
		id, st.Enqueued, st.Completed, st.Failed, st.DLQSize)
}

func (s *Service) handleDLQ(ctx context.Context) {
	accounts, err := s.deps.AccountRepo.ListActive(ctx)
	if err != nil {
		pr.ErrPrintln("dlq: list accounts error:", err)
		return
	}
	var total int64
	for _, a := range accounts {
		st, err := s.deps.Queue.Stats(ctx, a.ID)
		if err != nil {
			logger.Warnf("console: dlq stats for account %s: %v", a.ID, err)
			continue
		}
		if st.DLQSize > 0 {
			pr.Printf("%s  dlq=%d\n", a.ID, st.DLQSize)
		}
		total += st.DLQSize
	}
	pr.Printf("Total dead-lettered tasks: %d\n", total)
}

// handleResetCounters is an operator override of the scheduled counter
// resets: forces every active account's hourly/daily counters to zero
// immediately, bypassing DueForHourlyReset/DueForDailyReset.
func (s *Service) handleResetCounters(ctx context.Context) {
	accounts, err := s.deps.AccountRepo.ListActive(ctx)
	if err != nil {
		pr.ErrPrintln("reset-counters: list accounts error:", err)
		return
	}

	// A real terminal gets a confirmation prompt before this fleet-wide
	// mutation; a piped/scripted invocation (pr.IsInteractive false) is
	// assumed to already know what it's doing and proceeds straight through.
	if pr.IsInteractive() {
		pr.Printf("This will reset counters for %d active accounts. Type 'yes' to confirm: ", len(accounts))
		answer, err := pr.Rl().Readline()
		if err != nil || strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			pr.Println("reset-counters: aborted")
			return
		}
	}

	now := time.Now()
	reset := 0
	for _, a := range accounts {
		a.Counters.HourlyOutreachSent = 0
		a.Counters.HourlyResponsesSent = 0
		a.Counters.DailyConversationsStart = 0
		a.Counters.LastHourlyResetAt = now
		a.Counters.LastDailyResetAt = now
		if err := s.deps.AccountRepo.Save(ctx, a); err != nil {
			pr.ErrPrintln("reset-counters: save account", a.ID, "error:", err)
			continue
		}
		reset++
	}
	pr.Printf("Reset counters for %d accounts.\n", reset)
}
