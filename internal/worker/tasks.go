package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/account"
	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/dialogueproc"
	"telegram-fleet/internal/domain/dialogueproc/humanizer"
	"telegram-fleet/internal/domain/dialogueproc/parser"
	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/domain/ratelimit"
	"telegram-fleet/internal/infra/logger"
	"telegram-fleet/internal/infra/telegram"
)

// firstContactPauseMin/Max bound the pause before a fresh Dialogue's opening
// message goes out.
const (
	firstContactPauseMin = 30 * time.Second
	firstContactPauseMax = 120 * time.Second
)

// followUpBackoff: 24h, 48h, 96h, the index driven by the dialogue's
// existing follow-up count.
var followUpBackoff = []time.Duration{24 * time.Hour, 48 * time.Hour, 96 * time.Hour}

// maxFollowUps caps how many follow-ups a silent dialogue gets before expiry.
const maxFollowUps = 3

// Follow-ups run slightly hotter than inbound replies: campaign temperature
// + 0.1, capped at 1.0.
const followUpTemperatureCap = 1.0
const followUpTemperatureBump = 0.1

// interPartPauseBase is the base passed to SendMessagesNatural, which applies
// its own U(0.7,1.3) jitter on top, landing in the intended U(0.8,2.0)s
// inter-part pause band without double-jittering.
const interPartPauseBase = 1400 * time.Millisecond

// processOutreachTasks drains this account's queue, dispatching each Task by
// type, until Dequeue reports the queue empty. A
// transient network/timeout error from a dispatched task is returned as-is so
// runMainLoopStep can hand it to handleLoopError for proxy failover; every
// other failure is resolved locally via queue.Fail/Complete and swallowed.
func (w *Worker) processOutreachTasks(ctx context.Context, acc *account.Account) error {
	for {
		task, err := w.p.Queue.Dequeue(ctx, w.AccountID, dequeueTimeout)
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		if err := w.dispatchTask(ctx, acc, task); err != nil {
			return err
		}
	}
}

func (w *Worker) dispatchTask(ctx context.Context, acc *account.Account, task *queue.Task) error {
	switch task.Type {
	case queue.TypeSendFirstMessage:
		return w.handleSendFirstMessage(ctx, acc, task)
	case queue.TypeSendFollowUp:
		return w.handleSendFollowUpTask(ctx, task)
	case queue.TypeSendResponse:
		// The reply itself is authored by the inbound handler; this task
		// type only exists to wake the worker.
		if err := w.p.Queue.Complete(ctx, task); err != nil {
			logger.Warnf("worker: account %s complete send-response task: %v", w.AccountID, err)
		}
		return nil
	default:
		logger.Warnf("worker: account %s dequeued unknown task type %q", w.AccountID, task.Type)
		if err := w.p.Queue.Complete(ctx, task); err != nil {
			logger.Warnf("worker: account %s complete unknown task: %v", w.AccountID, err)
		}
		return nil
	}
}

// handleSendFirstMessage runs one send-first-message task: gate on the
// daily-conversation budget, open a Dialogue with a generated greeting,
// pause, split by "|||", send, and update every affected record.
func (w *Worker) handleSendFirstMessage(ctx context.Context, acc *account.Account, task *queue.Task) error {
	snap := snapshotOf(acc)
	if !ratelimit.CanStartConversation(snap, time.Now()) {
		return w.failTask(ctx, task, "cannot_start_conversation", true)
	}

	if task.TargetID == nil {
		return w.failTask(ctx, task, "missing target id", false)
	}
	target, err := w.p.TargetRepo.Get(ctx, *task.TargetID)
	if err != nil {
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}

	c, err := w.p.CampaignRepo.Get(ctx, task.CampaignID)
	if err != nil {
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}

	recipientID, err := w.client.ResolveRecipient(ctx, task.Recipient)
	if err != nil {
		if isTransient(err) {
			return err
		}
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}

	text, err := dialogueproc.FirstMessage(ctx, w.p.LLM, c, w.p.Rng)
	if err != nil {
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}

	d := &dialogue.Dialogue{
		ID:             uuid.New(),
		AccountID:      w.AccountID,
		CampaignID:     task.CampaignID,
		TargetID:       *task.TargetID,
		TelegramUserID: recipientID,
		Status:         dialogue.StatusInitiated,
		MaxRetries:     queue.DefaultMaxRetries,
	}
	unlock := w.dialogues.lock(d.ID)
	defer unlock()

	pause := jitterBetween(w.p.Rng, firstContactPauseMin, firstContactPauseMax)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(pause):
	}

	parts := strings.Split(text, "|||")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	typingTimes := make([]time.Duration, len(parts))
	for i, p := range parts {
		typingTimes[i] = typingTimeFor(p, w.p.Rng)
	}

	ids, err := w.client.SendMessagesNatural(ctx, recipientID, parts, typingTimes, interPartPauseBase)
	if err != nil {
		var priv *telegram.ErrPrivacy
		if errors.As(err, &priv) {
			d.MarkFailed("privacy_settings")
			target.Status = campaign.TargetFailed
			target.DialogueID = &d.ID
			if saveErr := w.p.DialogueRepo.Save(ctx, d, false); saveErr != nil {
				logger.Warnf("worker: account %s save privacy-failed dialogue: %v", w.AccountID, saveErr)
			}
			if saveErr := w.p.TargetRepo.Save(ctx, target); saveErr != nil {
				logger.Warnf("worker: account %s save privacy-failed target: %v", w.AccountID, saveErr)
			}
			if w.p.Results != nil {
				_ = w.p.Results.Append(task.CampaignID, campaign.OutcomeFailure, target.Identifier(), "privacy_settings", time.Now())
			}
			return w.p.Queue.Complete(ctx, task)
		}
		if wait, flooded := telegram.FloodWait(err); flooded {
			return w.handleFlood(ctx, task, err.Error(), wait)
		}
		if isTransient(err) {
			_ = w.p.Queue.Fail(ctx, task, err.Error(), true)
			return err
		}
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}

	now := time.Now()
	for i, part := range parts {
		var msgID int64
		if i < len(ids) {
			msgID = int64(ids[i])
		}
		d.Append(dialogue.Message{Role: dialogue.RoleAccount, Content: part, At: now, TelegramMsgID: msgID})
	}

	target.Status = campaign.TargetContacted
	target.DialogueID = &d.ID

	acc.Counters.DailyConversationsStart++
	acc.Counters.HourlyOutreachSent++
	acc.Counters.LifetimeMessagesSent += len(parts)
	acc.Counters.LifetimeConversations++

	c.Stats.TargetsContacted++

	if err := w.p.DialogueRepo.Save(ctx, d, false); err != nil {
		logger.Warnf("worker: account %s save new dialogue %s: %v", w.AccountID, d.ID, err)
	}
	if err := w.p.TargetRepo.Save(ctx, target); err != nil {
		logger.Warnf("worker: account %s save contacted target %s: %v", w.AccountID, target.ID, err)
	}
	if err := w.p.AccountRepo.Save(ctx, acc); err != nil {
		logger.Warnf("worker: account %s save outreach counters: %v", w.AccountID, err)
	}
	if err := w.p.CampaignRepo.Save(ctx, c); err != nil {
		logger.Warnf("worker: account %s save campaign contacted stat: %v", w.AccountID, err)
	}

	for range parts {
		w.recordSent()
	}
	return w.p.Queue.Complete(ctx, task)
}

// handleSendFollowUpTask resolves the dialogue a queued send-follow-up task
// names and runs the shared follow-up path.
func (w *Worker) handleSendFollowUpTask(ctx context.Context, task *queue.Task) error {
	if task.DialogueID == nil {
		return w.failTask(ctx, task, "missing dialogue id", false)
	}
	d, err := w.p.DialogueRepo.Get(ctx, *task.DialogueID)
	if err != nil {
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}
	c, err := w.p.CampaignRepo.Get(ctx, d.CampaignID)
	if err != nil {
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}
	if err := w.sendFollowUp(ctx, d, c); err != nil {
		if wait, flooded := telegram.FloodWait(err); flooded {
			return w.handleFlood(ctx, task, err.Error(), wait)
		}
		if isTransient(err) {
			_ = w.p.Queue.Fail(ctx, task, err.Error(), true)
			return err
		}
		return w.failTask(ctx, task, err.Error(), task.CanRetry())
	}
	return w.p.Queue.Complete(ctx, task)
}

// processDueFollowUps is the second half of the outreach pass: scan this
// account's active dialogues for next_action_at <= now and run the follow-up
// path directly, without going through the queue.
func (w *Worker) processDueFollowUps(ctx context.Context, acc *account.Account) error {
	dialogues, err := w.p.DialogueRepo.ListActiveByAccount(ctx, w.AccountID)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, d := range dialogues {
		if d.Status.Terminal() || d.NextActionAt.IsZero() || d.NextActionAt.After(now) {
			continue
		}
		c, err := w.p.CampaignRepo.Get(ctx, d.CampaignID)
		if err != nil {
			logger.Warnf("worker: account %s follow-up campaign lookup %s failed: %v", w.AccountID, d.CampaignID, err)
			continue
		}
		if err := w.sendFollowUp(ctx, d, c); err != nil {
			if isTransient(err) {
				return err
			}
			logger.Warnf("worker: account %s follow-up for dialogue %s failed: %v", w.AccountID, d.ID, err)
		}
	}
	return nil
}

// sendFollowUp is the follow-up path shared by the queue-dispatched and
// directly-scanned variants. Runs under the per-dialogue lock, as every
// write to d must.
func (w *Worker) sendFollowUp(ctx context.Context, d *dialogue.Dialogue, c *campaign.Campaign) error {
	unlock := w.dialogues.lock(d.ID)
	defer unlock()

	if d.Status.Terminal() {
		return nil
	}

	followUpCount := countFollowUps(d)
	if !c.Sending.FollowUpEnabled || followUpCount >= maxFollowUps {
		d.Status = dialogue.StatusExpired
		c.RecordFailed()
		if err := w.p.DialogueRepo.Save(ctx, d, false); err != nil {
			logger.Warnf("worker: account %s expire dialogue %s: %v", w.AccountID, d.ID, err)
		}
		if err := w.p.CampaignRepo.Save(ctx, c); err != nil {
			logger.Warnf("worker: account %s save campaign after expiry: %v", w.AccountID, err)
		}
		if target, err := w.p.TargetRepo.Get(ctx, d.TargetID); err == nil {
			target.Status = campaign.TargetFailed
			if saveErr := w.p.TargetRepo.Save(ctx, target); saveErr != nil {
				logger.Warnf("worker: account %s save expired target %s: %v", w.AccountID, target.ID, saveErr)
			}
			if w.p.Results != nil {
				_ = w.p.Results.Append(c.ID, campaign.OutcomeFailure, target.Identifier(), "follow_up_expired", time.Now())
			}
		}
		return nil
	}

	temperature := c.AI.Temperature + followUpTemperatureBump
	if temperature > followUpTemperatureCap {
		temperature = followUpTemperatureCap
	}

	messages := buildFollowUpPrompt(d, c)
	completion, err := w.p.LLM.Generate(ctx, messages, c.AI.Model, temperature, c.AI.MaxTokens)
	if err != nil {
		return err
	}
	parsed := parser.Parse(completion.Content)
	reply := completion.Content
	if len(parsed.Messages) > 0 {
		reply = parsed.Messages[0]
	}
	reply = humanizer.Humanize(reply, w.p.Rng)

	ids, err := w.client.SendMessagesNatural(ctx, d.TelegramUserID, []string{reply}, []time.Duration{typingTimeFor(reply, w.p.Rng)}, interPartPauseBase)
	if err != nil {
		return err
	}

	var msgID int64
	if len(ids) > 0 {
		msgID = int64(ids[0])
	}
	d.Append(dialogue.Message{Role: dialogue.RoleAccount, Content: reply, At: time.Now(), AIGenerated: true, IsFollowUp: true, TelegramMsgID: msgID})

	idx := followUpCount
	if idx >= len(followUpBackoff) {
		idx = len(followUpBackoff) - 1
	}
	d.NextActionAt = time.Now().Add(followUpBackoff[idx])

	if err := w.p.DialogueRepo.Save(ctx, d, false); err != nil {
		logger.Warnf("worker: account %s save follow-up dialogue %s: %v", w.AccountID, d.ID, err)
	}
	w.recordSent()
	return nil
}

func buildFollowUpPrompt(d *dialogue.Dialogue, c *campaign.Campaign) []dialogueproc.Message {
	system := c.Prompt.System + "\n\nПереписка приостановилась. Напиши короткое, непринуждённое продолжение, " +
		"без повторения уже заданных вопросов, в один абзац."
	messages := []dialogueproc.Message{{Role: dialogueproc.RoleSystem, Content: system}}
	const historyTail = 8
	msgs := d.Messages
	if len(msgs) > historyTail {
		msgs = msgs[len(msgs)-historyTail:]
	}
	for _, m := range msgs {
		role := dialogueproc.RoleUser
		if m.Role == dialogue.RoleAccount {
			role = dialogueproc.RoleAssistant
		}
		messages = append(messages, dialogueproc.Message{Role: role, Content: m.Content})
	}
	return messages
}

func countFollowUps(d *dialogue.Dialogue) int {
	n := 0
	for _, m := range d.Messages {
		if m.IsFollowUp {
			n++
		}
	}
	return n
}

// failTask records cause on task and pushes it back through queue.Fail,
// honoring retry.
func (w *Worker) failTask(ctx context.Context, task *queue.Task, cause string, retry bool) error {
	if err := w.p.Queue.Fail(ctx, task, cause, retry); err != nil {
		logger.Warnf("worker: account %s fail task %s: %v", w.AccountID, task.ID, err)
	}
	return nil
}

// handleFlood resolves a FLOOD_WAIT on a queued send: the task is bumped to
// its next retry_count and re-enqueued at the head of the queue
// immediately (queue.Store.Requeue, no backoff), and only then does this
// coroutine sleep wait before returning — so the very next Dequeue on this
// account, once the sleep elapses, picks the same task back up. Resolved
// locally: unlike isTransient, a flood never bubbles up for proxy failover,
// since the proxy isn't at fault.
func (w *Worker) handleFlood(ctx context.Context, task *queue.Task, cause string, wait time.Duration) error {
	if !task.CanRetry() {
		return w.failTask(ctx, task, cause, false)
	}
	task.LastError = cause
	task.RetryCount++
	if err := w.p.Queue.Requeue(ctx, task); err != nil {
		logger.Warnf("worker: account %s requeue flooded task %s: %v", w.AccountID, task.ID, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}
	return nil
}

// isTransient reports whether err is the class of network/timeout failure
// that warrants a single proxy failover rather than failing the task
// outright.
func isTransient(err error) bool {
	var netErr *telegram.ErrNetwork
	var timeoutErr *telegram.ErrTimeout
	return errors.As(err, &netErr) || errors.As(err, &timeoutErr)
}
