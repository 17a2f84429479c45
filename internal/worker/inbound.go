package worker

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"telegram-fleet/internal/domain/batcher"
	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/ratelimit"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/telegram"
)

// handleFlushTimeout bounds one Batcher flush's entire pipeline run — it must
// survive past Stop's cancellation of runCtx, since Batcher.Stop flushes
// synchronously with whatever is still buffered.
const handleFlushTimeout = 45 * time.Second

// Reading-delay bounds: the pause simulating the account reading the
// incoming text before replying.
const (
	readingDelayMin   = 1 * time.Second
	readingDelayMax   = 8 * time.Second
	readingCharsPerS  = 15.0
)

// Typing-time bounds: how long the typing indicator runs per outgoing part.
const (
	typingDelayMin      = 1 * time.Second
	typingDelayMax      = 12 * time.Second
	typingCharsPerWord  = 250.0
	typingWordsPerMin   = 60.0
)

// handleIncoming is registered as the client's incoming-message handler.
// It looks up the dialogue this sender belongs to and, if one exists
// and is not terminal, pushes the text into the batcher — the actual reply
// pipeline runs later, from handleFlush, once the debounce/ceiling fires.
func (w *Worker) handleIncoming(ctx context.Context, msg telegram.IncomingMessage) error {
	d, err := w.p.DialogueRepo.GetByAccountAndUser(ctx, w.AccountID, msg.FromUserID)
	if err != nil || d == nil || d.Status.Terminal() {
		return nil
	}
	if w.batcher == nil {
		return nil
	}
	key := batcher.Key{AccountID: w.AccountID.String(), UserID: msg.FromUserID}
	w.batcher.Add(key, msg.Text, int64(msg.MessageID))
	return nil
}

// handleFlush is the Batcher's registered callback: one debounced logical
// inbound turn. It runs under the per-dialogue lock so it can never
// race a concurrent follow-up for the same dialogue.
func (w *Worker) handleFlush(f batcher.Flush) {
	ctx, cancel := context.WithTimeout(context.Background(), handleFlushTimeout)
	defer cancel()

	d, err := w.p.DialogueRepo.GetByAccountAndUser(ctx, w.AccountID, f.Key.UserID)
	if err != nil || d == nil || d.Status.Terminal() {
		return
	}

	// Response cap: a fresh counter snapshot gates every inbound reply the
	// same way the outreach counters gate the main loop.
	acc, err := w.p.AccountRepo.Get(ctx, w.AccountID)
	if err != nil {
		logger.Warnf("worker: account %s inbound snapshot refresh failed: %v", w.AccountID, err)
		return
	}
	if !ratelimit.CanRespond(snapshotOf(acc)) {
		logger.Debugf("worker: account %s hourly response cap reached, dropping inbound flush", w.AccountID)
		return
	}

	c, err := w.p.CampaignRepo.Get(ctx, d.CampaignID)
	if err != nil {
		logger.Warnf("worker: account %s inbound campaign lookup %s failed: %v", w.AccountID, d.CampaignID, err)
		return
	}

	unlock := w.dialogues.lock(d.ID)
	defer unlock()

	if d.Status.Terminal() {
		return
	}

	text := strings.Join(f.Texts, " ")
	ourLast := lastAccountMessage(d)
	var lastTelegramMsgID int64
	if len(f.TelegramMsgIDs) > 0 {
		lastTelegramMsgID = f.TelegramMsgIDs[len(f.TelegramMsgIDs)-1]
	}

	outcome, err := w.p.Processor.Process(ctx, d, c, text, ourLast, lastTelegramMsgID)
	if err != nil {
		logger.Warnf("worker: account %s dialogue %s pipeline error: %v", w.AccountID, d.ID, err)
		w.recordError()
		return
	}

	if w.client != nil && len(f.TelegramMsgIDs) > 0 {
		w.client.MarkRead(ctx, f.Key.UserID, int(f.TelegramMsgIDs[len(f.TelegramMsgIDs)-1]))
	}

	delay := readingDelayFor(text, w.p.Rng)
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if !outcome.NoReply && len(outcome.Replies) > 0 && w.client != nil {
		ids, err := w.sendReplyParts(ctx, f.Key.UserID, outcome.Replies)
		if err != nil {
			logger.Warnf("worker: account %s dialogue %s reply send failed: %v", w.AccountID, d.ID, err)
			w.recordError()
		} else {
			stampLastOutboundIDs(d, ids)
			for range ids {
				w.recordSent()
			}
		}
	}

	if err := w.p.DialogueRepo.Save(ctx, d, false); err != nil {
		logger.Warnf("worker: account %s save dialogue %s after inbound turn: %v", w.AccountID, d.ID, err)
	}

	if outcome.TargetStatus != "" {
		if t, err := w.p.TargetRepo.Get(ctx, d.TargetID); err == nil {
			t.Status = outcome.TargetStatus
			if err := w.p.TargetRepo.Save(ctx, t); err != nil {
				logger.Warnf("worker: account %s save target %s after inbound turn: %v", w.AccountID, t.ID, err)
			}
			if w.p.Results != nil {
				switch outcome.TargetStatus {
				case campaign.TargetFailed:
					_ = w.p.Results.Append(c.ID, campaign.OutcomeFailure, t.Identifier(), outcome.FailReason, time.Now())
				case campaign.TargetConverted:
					_ = w.p.Results.Append(c.ID, campaign.OutcomeSuccess, t.Identifier(), "", time.Now())
				}
			}
		}
	}

	delta := outcome.CampaignDelta
	if delta.Responded > 0 || delta.Failed > 0 || delta.GoalsReached > 0 {
		if delta.Responded > 0 {
			c.Stats.DialoguesActive++
		}
		c.Stats.Failed += delta.Failed
		if delta.GoalsReached > 0 {
			c.RecordGoalReached()
		}
		if err := w.p.CampaignRepo.Save(ctx, c); err != nil {
			logger.Warnf("worker: account %s save campaign %s after inbound turn: %v", w.AccountID, c.ID, err)
		}
	}

	// Re-read the record: the manager's hourly job may have reset the
	// counters while the pipeline and the send were running.
	if fresh, err := w.p.AccountRepo.Get(ctx, w.AccountID); err == nil {
		fresh.Counters.HourlyResponsesSent++
		if err := w.p.AccountRepo.Save(ctx, fresh); err != nil {
			logger.Warnf("worker: account %s save hourly response counter: %v", w.AccountID, err)
		}
	}
}

// sendReplyParts sends every part of a pipeline reply via SendMessagesNatural
// with per-part typing time. There is no queue task behind an inbound reply
// to re-enqueue, so on flood the goroutine sleeps the server-given wait and
// tries once more, rather than (as the queued send paths do) requeuing a task.
func (w *Worker) sendReplyParts(ctx context.Context, recipientUserID int64, parts []string) ([]int, error) {
	typingTimes := make([]time.Duration, len(parts))
	for i, p := range parts {
		typingTimes[i] = typingTimeFor(p, w.p.Rng)
	}
	ids, err := w.client.SendMessagesNatural(ctx, recipientUserID, parts, typingTimes, interPartPauseBase)
	if wait, flooded := telegram.FloodWait(err); flooded {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		return w.client.SendMessagesNatural(ctx, recipientUserID, parts, typingTimes, interPartPauseBase)
	}
	return ids, err
}

// readingDelayFor: (|text|/15) * U(0.8,1.2) + U(0.5,2)s, clamped to [1,8]s.
func readingDelayFor(text string, rng *rand.Rand) time.Duration {
	base := float64(len([]rune(text))) / readingCharsPerS * jitterFloat(rng, 0.8, 1.2)
	extra := jitterFloat(rng, 0.5, 2.0)
	d := time.Duration((base + extra) * float64(time.Second))
	return clampDuration(d, readingDelayMin, readingDelayMax)
}

// typingTimeFor: ((|part|/250)*60) * U(0.8,1.3)s, clamped to [1,12]s.
func typingTimeFor(part string, rng *rand.Rand) time.Duration {
	base := float64(len([]rune(part))) / typingCharsPerWord * typingWordsPerMin * jitterFloat(rng, 0.8, 1.3)
	d := time.Duration(base * float64(time.Second))
	return clampDuration(d, typingDelayMin, typingDelayMax)
}

func jitterFloat(rng *rand.Rand, min, max float64) float64 {
	if rng == nil {
		return (min + max) / 2
	}
	return min + rng.Float64()*(max-min)
}

func clampDuration(d, min, max time.Duration) time.Duration {
	return time.Duration(math.Max(float64(min), math.Min(float64(max), float64(d))))
}

func lastAccountMessage(d *dialogue.Dialogue) string {
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].Role == dialogue.RoleAccount {
			return d.Messages[i].Content
		}
	}
	return ""
}

// stampLastOutboundIDs stamps TelegramMsgID on the last len(ids) RoleAccount
// messages appended to d — exactly the messages Process just produced for
// this turn's reply.
func stampLastOutboundIDs(d *dialogue.Dialogue, ids []int) {
	if len(ids) == 0 {
		return
	}
	remaining := len(ids)
	for i := len(d.Messages) - 1; i >= 0 && remaining > 0; i-- {
		if d.Messages[i].Role != dialogue.RoleAccount {
			continue
		}
		remaining--
		d.Messages[i].TelegramMsgID = int64(ids[remaining])
	}
}
