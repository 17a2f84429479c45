package worker

import (
	"context"
	"errors"
	"time"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/warmup"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/telegram"
)

// warmupCycleMin/Max bound how often a warm-up cycle runs: at most once
// per U(5m,15m).
const (
	warmupCycleMin = 5 * time.Minute
	warmupCycleMax = 15 * time.Minute
)

// reactionProbability is the default chance of reacting to a random recent
// post during a warm-up cycle when no persona overrides it.
const reactionProbability = 0.3

// initWarmup loads the account's warm-up state, profile and persona if
// configured. A missing warm-up record is not an error — most accounts never
// go through warm-up, it just means no warm-up cycle ever runs for this worker.
func (w *Worker) initWarmup(ctx context.Context, acc *account.Account) error {
	state, err := w.p.WarmupRepo.Get(ctx, acc.ID)
	if err != nil {
		return nil
	}
	w.warmupState = state
	if state.DailyCounters == nil {
		state.DailyCounters = make(map[string]int)
	}

	if profile, err := w.p.WarmupRepo.GetProfile(ctx, state.ProfileID); err == nil {
		w.warmupProfile = profile
	}
	if persona, err := w.p.WarmupRepo.GetPersona(ctx, acc.ID); err == nil {
		w.persona = persona
	}

	w.warmupNextAt = time.Now()
	w.recordWarmup()
	return nil
}

// inWarmup reports whether this account is currently restricted to warm-up
// activity.
func (w *Worker) inWarmup() bool {
	return w.warmupState != nil && w.warmupState.Status == warmup.StatusActive
}

// maybeRunWarmupCycle runs one warm-up cycle if one is due and the account
// is still mid warm-up.
func (w *Worker) maybeRunWarmupCycle(ctx context.Context) {
	if !w.inWarmup() {
		return
	}
	now := time.Now()
	if w.warmupState.InFloodWait(now) {
		return
	}
	if now.Before(w.warmupNextAt) {
		return
	}

	w.runWarmupCycle(ctx, now)
	w.warmupNextAt = now.Add(jitterBetween(w.p.Rng, warmupCycleMin, warmupCycleMax))

	if err := w.p.WarmupRepo.Save(ctx, w.warmupState); err != nil {
		logger.Warnf("worker: account %s failed to persist warm-up state: %v", w.AccountID, err)
	}
	w.recordWarmup()
}

// warmupAction is one of the "human-like noise" behaviors a cycle draws from
// in random order each cycle.
type warmupAction struct {
	name string
	run  func(w *Worker, ctx context.Context) error
}

var warmupActions = []warmupAction{
	{name: "join_pool", run: (*Worker).warmupJoinFromPool},
	{name: "react", run: (*Worker).warmupReact},
	{name: "scroll_dialog", run: (*Worker).warmupScrollDialog},
	{name: "view_profile", run: (*Worker).warmupViewProfile},
}

// runWarmupCycle executes a random-order subset of warmupActions, stopping
// early the moment any of them raises a flood wait.
func (w *Worker) runWarmupCycle(ctx context.Context, now time.Time) {
	order := w.p.Rng.Perm(len(warmupActions))
	for _, i := range order {
		action := warmupActions[i]
		if err := action.run(w, ctx); err != nil {
			var flood *telegram.ErrFlood
			if errors.As(err, &flood) {
				w.warmupState.ApplyFlood(now, int(flood.Wait.Seconds()))
				logger.Warnf("worker: account %s warm-up flood wait %s during %q", w.AccountID, flood.Wait, action.name)
				return
			}
			logger.Warnf("worker: account %s warm-up action %q failed: %v", w.AccountID, action.name, err)
			continue
		}
		w.warmupState.DailyCounters[action.name]++
	}

	w.advanceWarmupStage(now)
}

// advanceWarmupStage matches elapsed days against the profile's stage
// schedule and marks warm-up completed once the last stage is reached,
// making the account eligible for outreach.
func (w *Worker) advanceWarmupStage(now time.Time) {
	if w.warmupProfile == nil {
		return
	}
	elapsedDays := int(now.Sub(w.warmupState.StartedAt).Hours() / 24)
	stage := w.warmupProfile.StageFor(elapsedDays)
	w.warmupState.Stage = stage
	if w.warmupProfile.IsLastStage(stage) {
		w.warmupState.Status = warmup.StatusCompleted
	}
}

// dailyCapReached reports whether action has already hit its per-stage daily
// cap for the account's current warm-up stage.
func (w *Worker) dailyCapReached(action string) bool {
	if w.warmupProfile == nil || w.warmupState.Stage >= len(w.warmupProfile.Stages) {
		return false
	}
	limit, ok := w.warmupProfile.Stages[w.warmupState.Stage].DailyCaps[action]
	if !ok {
		return false
	}
	return w.warmupState.DailyCounters[action] >= limit
}

// warmupJoinFromPool joins one channel or group from the configured pools,
// respecting the current stage's daily cap.
func (w *Worker) warmupJoinFromPool(ctx context.Context) error {
	if w.client == nil || w.dailyCapReached("join_pool") {
		return nil
	}

	channels, err := w.p.WarmupRepo.ListChannels(ctx)
	if err != nil {
		return nil
	}
	groups, err := w.p.WarmupRepo.ListGroups(ctx)
	if err != nil {
		return nil
	}
	if len(channels) == 0 && len(groups) == 0 {
		return nil
	}

	if len(groups) == 0 || (len(channels) > 0 && w.p.Rng.Intn(2) == 0) {
		return w.client.JoinChannel(ctx, channels[w.p.Rng.Intn(len(channels))].Username)
	}
	return w.client.JoinChannel(ctx, groups[w.p.Rng.Intn(len(groups))].Username)
}

// warmupReact is a placeholder: the operation surface has no message-reaction
// RPC, so this only rolls the probability gate and counts toward the daily
// cap without a network call.
func (w *Worker) warmupReact(context.Context) error {
	if w.dailyCapReached("react") {
		return nil
	}
	if w.p.Rng.Float64() > reactionProbability {
		return nil
	}
	return nil
}

// warmupScrollDialog marks one active dialogue read up to its latest message
// (from either side), simulating "scroll/read a random dialog".
func (w *Worker) warmupScrollDialog(ctx context.Context) error {
	if w.client == nil || w.dailyCapReached("scroll_dialog") {
		return nil
	}
	dialogues, err := w.p.DialogueRepo.ListActiveByAccount(ctx, w.AccountID)
	if err != nil || len(dialogues) == 0 {
		return nil
	}
	d := dialogues[w.p.Rng.Intn(len(dialogues))]
	if len(d.Messages) == 0 {
		return nil
	}
	w.client.MarkRead(ctx, d.TelegramUserID, int(d.Messages[len(d.Messages)-1].TelegramMsgID))
	return nil
}

// warmupViewProfile is a placeholder activity with no externally observable
// side effect through this client's operation surface.
func (w *Worker) warmupViewProfile(context.Context) error {
	return nil
}
