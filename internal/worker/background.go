package worker

import (
	"context"
	"math/rand"
	"time"

	"telegram-fleet/internal/infra/logger"
)

// backgroundVariance is the per-account timing jitter: every background
// timer is scaled by account.TimingVariance(id, 0.3), i.e. somewhere in
// [0.7x, 1.3x] of its nominal duration, so a fleet of workers never toggles
// presence or fires activities in lockstep.
const backgroundVariance = 0.3

// Online/offline toggle bounds.
const (
	onlineMin  = 45 * time.Second
	onlineMax  = 240 * time.Second
	offlineMin = 3 * time.Minute
	offlineMax = 20 * time.Minute
)

// backgroundStartupMax bounds the initial random delay applied on start,
// so freshly started workers never begin their noise in lockstep.
const backgroundStartupMax = 120 * time.Second

// backgroundActivity is a single weighted choice of idle behavior the loop
// asks a worker to perform while toggled online, so the account looks like
// it is actually being used between real outreach/response work.
type backgroundActivity struct {
	name   string
	weight int
	run    func(w *Worker, ctx context.Context) error
}

// Weights: read-channel 25%, read-dialog 20%,
// scroll 20%, reaction 15%, view-profile 10%, typing-simulation 10%.
var backgroundActivities = []backgroundActivity{
	{name: "read-channel", weight: 25, run: (*Worker).backgroundReadChannel},
	{name: "read-dialog", weight: 20, run: (*Worker).backgroundReadDialog},
	{name: "scroll", weight: 20, run: (*Worker).backgroundScroll},
	{name: "reaction", weight: 15, run: (*Worker).backgroundReaction},
	{name: "view-profile", weight: 10, run: (*Worker).backgroundViewProfile},
	{name: "typing-simulation", weight: 10, run: (*Worker).backgroundTypingSimulation},
}

// runBackgroundLoop is the always-on human-noise loop: after an initial
// U(0,120s) startup delay, it alternates "online" and "offline" periods,
// running one weighted activity per online period, until ctx is cancelled.
// The periods only set the timing: no presence update is sent, so the
// account's Telegram online status is not changed by this loop.
func (w *Worker) runBackgroundLoop(ctx context.Context) {
	defer w.wg.Done()

	if !sleepVariance(ctx, time.Duration(w.p.Rng.Int63n(int64(backgroundStartupMax))), w.backgroundVariance()) {
		return
	}

	for {
		online := jitterBetween(w.p.Rng, onlineMin, onlineMax)
		if !sleepVariance(ctx, online, w.backgroundVariance()) {
			return
		}

		activity := pickBackgroundActivity(w.p.Rng)
		if err := activity.run(w, ctx); err != nil {
			logger.Warnf("worker: account %s background activity %q failed: %v", w.AccountID, activity.name, err)
		} else {
			w.recordBackgroundActivity()
		}

		offline := jitterBetween(w.p.Rng, offlineMin, offlineMax)
		if !sleepVariance(ctx, offline, w.backgroundVariance()) {
			return
		}
	}
}

// backgroundVariance returns this worker's deterministic per-account timing
// multiplier, cached on the stats snapshot computed in New.
func (w *Worker) backgroundVariance() float64 {
	return w.GetStats().TimingOffset
}

// jitterBetween picks a uniform duration in [min, max).
func jitterBetween(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

// sleepVariance sleeps d*variance, returning false if ctx is cancelled first.
func sleepVariance(ctx context.Context, d time.Duration, variance float64) bool {
	scaled := time.Duration(float64(d) * variance)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(scaled):
		return true
	}
}

func pickBackgroundActivity(rng *rand.Rand) backgroundActivity {
	total := 0
	for _, a := range backgroundActivities {
		total += a.weight
	}
	n := rng.Intn(total)
	for _, a := range backgroundActivities {
		if n < a.weight {
			return a
		}
		n -= a.weight
	}
	return backgroundActivities[len(backgroundActivities)-1]
}

// backgroundReadChannel scrapes a few messages from one of the account's
// warm-up channel pool entries, the read-only equivalent of opening a
// subscribed channel and reading recent posts.
func (w *Worker) backgroundReadChannel(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	channels, err := w.p.WarmupRepo.ListChannels(ctx)
	if err != nil || len(channels) == 0 {
		return nil
	}
	ch := channels[w.p.Rng.Intn(len(channels))]
	_, err = w.client.ScrapeGroupParticipants(ctx, ch.Username, 1, false, true)
	return err
}

// backgroundReadDialog picks one active dialogue and marks it read up to its
// last message (from either side), simulating a user opening an existing
// conversation.
func (w *Worker) backgroundReadDialog(ctx context.Context) error {
	if w.client == nil {
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
	last := d.Messages[len(d.Messages)-1]
	w.client.MarkRead(ctx, d.TelegramUserID, int(last.TelegramMsgID))
	return nil
}

// backgroundScroll scrapes one of the account's warm-up group pool entries,
// the read-only equivalent of a user scrolling a group's member/message list.
func (w *Worker) backgroundScroll(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	groups, err := w.p.WarmupRepo.ListGroups(ctx)
	if err != nil || len(groups) == 0 {
		return nil
	}
	g := groups[w.p.Rng.Intn(len(groups))]
	_, err = w.client.ScrapeGroupParticipants(ctx, g.Username, 20, false, false)
	return err
}

// backgroundReaction is a placeholder activity: the operation surface has no
// message-reaction RPC, so it only contributes timing texture to the loop.
func (w *Worker) backgroundReaction(context.Context) error {
	return nil
}

// backgroundViewProfile is a placeholder activity: viewing one's own profile
// leaves no externally observable side effect through this client's
// operation surface, so it only contributes timing texture to the loop.
func (w *Worker) backgroundViewProfile(context.Context) error {
	return nil
}

// backgroundTypingSimulation shows a typing indicator for 2 seconds toward a
// random active dialogue partner, without sending anything.
func (w *Worker) backgroundTypingSimulation(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	dialogues, err := w.p.DialogueRepo.ListActiveByAccount(ctx, w.AccountID)
	if err != nil || len(dialogues) == 0 {
		return nil
	}
	d := dialogues[w.p.Rng.Intn(len(dialogues))]
	return w.client.TypeAndWait(ctx, d.TelegramUserID, 2*time.Second)
}
