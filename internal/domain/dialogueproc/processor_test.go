package dialogueproc_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/dialogueproc"
)

type fakeProvider struct {
	content string
	err     error
}

func (f fakeProvider) Generate(ctx context.Context, messages []dialogueproc.Message, model string, temperature float64, maxTokens int) (dialogueproc.Completion, error) {
	if f.err != nil {
		return dialogueproc.Completion{}, f.err
	}
	return dialogueproc.Completion{Content: f.content, Model: model}, nil
}

func newDialogue() *dialogue.Dialogue {
	return &dialogue.Dialogue{
		ID:         uuid.New(),
		AccountID:  uuid.New(),
		CampaignID: uuid.New(),
		Status:     dialogue.StatusInitiated,
		MaxRetries: 3,
	}
}

func newCampaign() *campaign.Campaign {
	return &campaign.Campaign{
		ID:     uuid.New(),
		Status: campaign.StatusActive,
		Goal: campaign.Goal{
			TargetURL:     "https://t.me/x",
			MinBeforeGoal: 3,
		},
		Prompt: campaign.Prompt{System: "ты дружелюбный трейдер"},
		AI:     campaign.AISettings{Model: "gpt-4o-mini", MaxTokens: 200},
	}
}

func TestProcessExplicitLinkRequestSendsLink(t *testing.T) {
	t.Parallel()

	d := newDialogue()
	d.Append(dialogue.Message{Role: dialogue.RoleAccount, Content: "привет", At: time.Now()})
	c := newCampaign()

	p := dialogueproc.New(fakeProvider{}, rand.New(rand.NewSource(1)))
	out, err := p.Process(context.Background(), d, c, "скинь ссылку на канал", "привет", 101)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out.Replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(out.Replies))
	}
	if out.GoalReached != true {
		t.Fatalf("GoalReached = %v, want true (link contains target URL)", out.GoalReached)
	}
	if d.Status != dialogue.StatusGoalReached {
		t.Fatalf("dialogue status = %v, want goal_reached", d.Status)
	}
}

func TestProcessMediaSpamGate(t *testing.T) {
	t.Parallel()

	d := newDialogue()
	d.Append(dialogue.Message{Role: dialogue.RoleUser, Content: "[стикер]", At: time.Now()})
	d.Append(dialogue.Message{Role: dialogue.RoleUser, Content: "[стикер]", At: time.Now()})
	c := newCampaign()

	p := dialogueproc.New(fakeProvider{}, rand.New(rand.NewSource(1)))
	out, err := p.Process(context.Background(), d, c, "[стикер]", "", 3)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !out.NoReply {
		t.Fatal("NoReply = false, want true on third consecutive media placeholder")
	}
	if d.Status != dialogue.StatusFailed || d.FailReason != "media_spam" {
		t.Fatalf("dialogue = %+v, want failed/media_spam", d)
	}
}

func TestProcessRejectionAfterGoal(t *testing.T) {
	t.Parallel()

	d := newDialogue()
	d.GoalMessageSent = true
	d.Status = dialogue.StatusGoalReached
	c := newCampaign()

	p := dialogueproc.New(fakeProvider{}, rand.New(rand.NewSource(1)))
	out, err := p.Process(context.Background(), d, c, "не надо, спасибо", "", 5)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if d.Status != dialogue.StatusFailed || d.FailReason != "user_rejected" {
		t.Fatalf("dialogue = %+v, want failed/user_rejected", d)
	}
	if len(out.Replies) != 1 {
		t.Fatalf("got %d replies, want exactly one polite closer", len(out.Replies))
	}
}
