// Package dialogueproc turns one inbound user turn into zero or more outbound
// messages plus the resulting dialogue/target/campaign state changes.
// It is the hardest single piece of the fleet: parsing the LLM's structured
// output (parser), re-styling it so it reads like a human wrote it
// (humanizer), and deciding, via a strict branch order, whether to answer
// with a scripted line, a link delivery, or a fresh LLM call at all.
package dialogueproc

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"telegram-fleet/internal/domain/campaign"
	"telegram-fleet/internal/domain/dialogue"
	"telegram-fleet/internal/domain/dialogueproc/humanizer"
	"telegram-fleet/internal/domain/dialogueproc/lexicon"
	"telegram-fleet/internal/domain/dialogueproc/parser"
)

// maxInterestScore mirrors dialogue's own saturation cap.
const maxInterestScore = 20

// historyWindow — сколько последних сообщений отдаётся в LLM.
const historyWindow = 8

// llmTemperature — температура для входящих ответов зафиксирована.
const llmTemperature = 0.8

// nextActionHorizon — на сколько вперёд планируется следующий шаг по диалогу.
const nextActionHorizon = 24 * time.Hour

// fallbackModelChain — цепочка моделей по умолчанию при отказе провайдера.
var fallbackModelChain = []string{"gpt-4o-mini", "gpt-4o", "gpt-4-turbo", "gpt-3.5-turbo"}

// Outcome описывает результат обработки одного входящего сообщения: что
// отправить, как изменить статусы диалога/цели и какие счётчики кампании
// подвинуть. Воркер применяет Outcome к своим репозиториям — сам Processor
// не делает записи в хранилища, только решает.
type Outcome struct {
	Replies        []string
	NoReply        bool
	DialogueStatus dialogue.Status
	TargetStatus   campaign.TargetStatus
	GoalReached    bool
	FailReason     string
	CampaignDelta  CampaignDelta
}

// CampaignDelta — счётчики кампании, которые нужно прибавить по итогам хода.
type CampaignDelta struct {
	Responded    int
	Failed       int
	GoalsReached int
}

// Processor прогоняет диалоговый конвейер для одного входящего сообщения.
type Processor struct {
	LLM Provider
	Now func() time.Time
	Rng *rand.Rand
}

// New создаёт Processor с реальными часами и независимым генератором
// случайности.
func New(llm Provider, rng *rand.Rand) *Processor {
	return &Processor{LLM: llm, Now: time.Now, Rng: rng}
}

// Process прогоняет весь конвейер для одного входящего текста text с telegram-id
// сообщения telegramMsgID. d и c мутируются in place (аппенд сообщений,
// счётчики, статус) — таково соглашение остального домена (Account,
// Dialogue — изменяемые агрегаты, версии двигает репозиторий). ourLast —
// текст последнего нашего исходящего сообщения, нужен для branch 2.
func (p *Processor) Process(ctx context.Context, d *dialogue.Dialogue, c *campaign.Campaign, text, ourLast string, telegramMsgID int64) (Outcome, error) {
	now := p.Now()

	// a. media-spam gate
	if isMediaPlaceholder(text) && lastTwoUserMessagesArePlaceholders(d) {
		d.MarkFailed("media_spam")
		return Outcome{
			NoReply:        true,
			DialogueStatus: dialogue.StatusFailed,
			TargetStatus:   campaign.TargetFailed,
			FailReason:     "media_spam",
			CampaignDelta:  CampaignDelta{Failed: 1},
		}, nil
	}

	// b. append user message
	d.Append(dialogue.Message{Role: dialogue.RoleUser, Content: text, At: now, TelegramMsgID: telegramMsgID})
	d.LastUserResponseAt = now

	// c. interest score update
	d.AddInterest(interestDelta(text))

	// d. rejection gate (only after goal offered)
	if d.GoalMessageSent && lexicon.IsRejection(text) {
		closer := lexicon.Pick(lexicon.RejectionCloserPool, p.Rng)
		d.Append(dialogue.Message{Role: dialogue.RoleAccount, Content: closer, At: now})
		d.MarkFailed("user_rejected")
		return Outcome{
			Replies:        []string{closer},
			DialogueStatus: dialogue.StatusFailed,
			TargetStatus:   campaign.TargetFailed,
			FailReason:     "user_rejected",
			CampaignDelta:  CampaignDelta{Failed: 1},
		}, nil
	}

	out := Outcome{}

	// e. state transition
	if d.Status == dialogue.StatusInitiated {
		d.Status = dialogue.StatusActive
		out.CampaignDelta.Responded++
		out.TargetStatus = campaign.TargetInProgress
	}

	userMsgCount := countRole(d, dialogue.RoleUser)
	ourMsgCount := countRole(d, dialogue.RoleAccount)

	var reply []string
	aiGenerated := false

	switch {
	case lexicon.ContainsAny(text, lexicon.ExplicitLinkRequest) && !d.GoalMessageSent:
		reply = []string{p.composeLink(d, c)}
	case isShortConsent(text) && lexicon.ContainsAny(ourLast, lexicon.ChannelKeywords):
		reply = []string{p.composeLink(d, c)}
	case lexicon.ContainsAny(text, lexicon.SoftInterest) && userMsgCount >= 3 && d.InterestScore >= 1 && !d.GoalMessageSent:
		reply = []string{p.composeLink(d, c)}
	case ourMsgCount == 1:
		// second-outbound shortcut: our first reply already exists (the
		// greeting), this turn produces our second outbound message.
		reply = []string{lexicon.Pick(lexicon.SecondMessagePool, p.Rng)}
	default:
		raw, err := p.callLLM(ctx, d, c, ourMsgCount)
		if err != nil {
			return Outcome{}, fmt.Errorf("dialogueproc: llm call: %w", err)
		}
		parsed := parser.Parse(raw)
		for _, m := range parsed.Messages {
			reply = append(reply, humanizer.Humanize(m, p.Rng))
		}
		aiGenerated = true
		if parsed.Action == parser.ActionNegativeFinish {
			d.MarkCompleted()
			out.DialogueStatus = dialogue.StatusCompleted
			out.Replies = reply
			return out, nil
		}
		if parsed.Action == parser.ActionHandoff {
			d.MarkHandoff()
			out.DialogueStatus = dialogue.StatusPaused
			out.Replies = reply
			return out, nil
		}
		if parsed.Action == parser.ActionCreativeSent {
			d.CreativeSent = true
		}
		if parsed.Action == parser.ActionSendLinks {
			// SEND_LINKS appends the link block to whatever the LLM
			// already said; the goal check below then sees the URL in the
			// combined
			// outbound text and marks the dialogue goal-reached as usual.
			reply = append(reply, p.composeLink(d, c))
		}
	}

	// g. append our reply
	for _, r := range reply {
		d.Append(dialogue.Message{Role: dialogue.RoleAccount, Content: r, At: now, AIGenerated: aiGenerated})
	}
	out.Replies = reply

	// h. goal check
	combined := strings.Join(reply, " ")
	if goalReached(combined, c.Goal) {
		d.MarkGoalReached(now)
		out.DialogueStatus = dialogue.StatusGoalReached
		out.TargetStatus = campaign.TargetConverted
		out.GoalReached = true
		out.CampaignDelta.GoalsReached++
	}

	// i. schedule next action
	d.NextActionAt = now.Add(nextActionHorizon)

	if out.DialogueStatus == "" {
		out.DialogueStatus = d.Status
	}

	return out, nil
}

// composeLink собирает блок ссылки: три части, соединённые пустой строкой.
func (p *Processor) composeLink(d *dialogue.Dialogue, c *campaign.Campaign) string {
	var intro string
	if d.LinkSentCount > 0 {
		intro = lexicon.Pick(lexicon.LinkIntroRepeatPool, p.Rng)
	} else {
		intro = lexicon.Pick(lexicon.LinkIntroPool, p.Rng)
	}
	explanation := lexicon.Pick(lexicon.LinkExplanationPool, p.Rng)
	return strings.Join([]string{intro, c.Goal.TargetURL, explanation}, "\n\n")
}

// callLLM: история до historyWindow сообщений, системный
// промпт из персоны кампании + критические правила + список уже заданных
// вопросов + подсказка о стадии, цепочка фоллбэков на модели.
func (p *Processor) callLLM(ctx context.Context, d *dialogue.Dialogue, c *campaign.Campaign, ourMsgCount int) (string, error) {
	system := buildSystemPrompt(d, c, ourMsgCount)
	history := buildHistory(d)
	messages := append([]Message{{Role: RoleSystem, Content: system}}, history...)

	models := modelChain(c)
	var lastErr error
	for _, model := range models {
		completion, err := p.LLM.Generate(ctx, messages, model, llmTemperature, c.AI.MaxTokens)
		if err == nil {
			return completion.Content, nil
		}
		lastErr = err
		if isRateLimit(err) {
			return "", err // rate-limit errors are NOT retried
		}
	}
	return "", lastErr
}

// modelChain: настроенная модель по умолчанию -> настроенный фоллбэк ->
// встроенная цепочка.
func modelChain(c *campaign.Campaign) []string {
	models := []string{c.AI.Model}
	if c.AI.Fallback != "" {
		models = append(models, c.AI.Fallback)
	}
	models = append(models, fallbackModelChain...)
	return models
}

// isRateLimit проверяет, относится ли err к классу RateLimit — именно этот
// класс единственный, который конвейер не должен повторно пытаться.
// Определено здесь через интерфейс, чтобы не тянуть internal/infra/llm в домен.
func isRateLimit(err error) bool {
	type rateLimiter interface{ RateLimited() bool }
	if rl, ok := err.(rateLimiter); ok {
		return rl.RateLimited()
	}
	return false
}

func buildHistory(d *dialogue.Dialogue) []Message {
	msgs := d.Messages
	if len(msgs) > historyWindow {
		msgs = msgs[len(msgs)-historyWindow:]
	}
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		role := RoleUser
		if m.Role == dialogue.RoleAccount {
			role = RoleAssistant
		}
		out = append(out, Message{Role: role, Content: m.Content})
	}
	return out
}

func buildSystemPrompt(d *dialogue.Dialogue, c *campaign.Campaign, ourMsgCount int) string {
	var sb strings.Builder
	sb.WriteString(c.Prompt.System)
	sb.WriteString("\n\n")
	sb.WriteString("Критические правила: не более одного вопроса за раз; короткие предложения; без эмодзи; никогда не раскрывай, что ты бот; если просят прислать стикер/команду — просто ответь текстом.\n")

	if qs := askedQuestions(d); len(qs) > 0 {
		sb.WriteString("Ты уже спрашивал: " + strings.Join(qs, "; ") + "\n")
	}

	if ourMsgCount >= c.Goal.MinBeforeGoal-2 {
		sb.WriteString("Подсказка: на этом шаге уже уместно аккуратно упомянуть канал.\n")
	}

	return sb.String()
}

func askedQuestions(d *dialogue.Dialogue) []string {
	var qs []string
	for _, m := range d.Messages {
		if m.Role == dialogue.RoleAccount && strings.Contains(m.Content, "?") {
			qs = append(qs, m.Content)
		}
	}
	return qs
}

// interestDelta: 2*style + 3*signals + 4*channel + 1*positive, без клэмпинга здесь —
// насыщение выполняет dialogue.AddInterest.
func interestDelta(text string) int {
	style := lexicon.CountOccurrences(text, lexicon.TradingStyleWords)
	signals := lexicon.CountOccurrences(text, lexicon.SignalsWords)
	channel := lexicon.CountOccurrences(text, lexicon.ChannelMentionWords)
	positive := lexicon.CountOccurrences(text, lexicon.PositiveWords)
	return 2*style + 3*signals + 4*channel + 1*positive
}

func isMediaPlaceholder(text string) bool {
	t := strings.TrimSpace(text)
	for _, ph := range lexicon.MediaPlaceholders {
		if t == ph {
			return true
		}
	}
	return false
}

func lastTwoUserMessagesArePlaceholders(d *dialogue.Dialogue) bool {
	count := 0
	for i := len(d.Messages) - 1; i >= 0 && count < 2; i-- {
		if d.Messages[i].Role != dialogue.RoleUser {
			continue
		}
		if !isMediaPlaceholder(d.Messages[i].Content) {
			return false
		}
		count++
	}
	return count == 2
}

func isShortConsent(text string) bool {
	t := strings.TrimSpace(strings.ToLower(text))
	if utf8.RuneCountInString(t) > 20 {
		return false
	}
	for _, w := range lexicon.ConsentShort {
		if t == w {
			return true
		}
	}
	return false
}

func countRole(d *dialogue.Dialogue, role dialogue.Role) int {
	n := 0
	for _, m := range d.Messages {
		if m.Role == role {
			n++
		}
	}
	return n
}

// goalReached: цель достигнута, если в outbound
// присутствует целевой URL (когда он задан), либо ≥60% первых пяти слов
// целевого сообщения встречаются в outbound.
func goalReached(outbound string, goal campaign.Goal) bool {
	if goal.TargetURL != "" && strings.Contains(outbound, goal.TargetURL) {
		return true
	}
	if goal.TargetMessage == "" {
		return false
	}
	words := strings.Fields(goal.TargetMessage)
	if len(words) > 5 {
		words = words[:5]
	}
	if len(words) == 0 {
		return false
	}
	low := strings.ToLower(outbound)
	matched := 0
	for _, w := range words {
		if strings.Contains(low, strings.ToLower(w)) {
			matched++
		}
	}
	return float64(matched)/float64(len(words)) >= 0.6
}

// FirstMessage: без шаблона первого сообщения в кампании — случайный выбор из
// приветственного пула; с шаблоном — ответ LLM (первая реплика, очеловеченная).
// Action всегда CONTINUE. Безопасный фоллбэк возвращается при отказе LLM-пути,
// пустом ответе LLM или при nil-провайдере.
func FirstMessage(ctx context.Context, llm Provider, c *campaign.Campaign, rng *rand.Rand) (string, error) {
	if llm == nil {
		return lexicon.FirstMessageFallback, nil
	}
	system := c.Prompt.FirstMessage
	if system == "" {
		return lexicon.Pick(lexicon.FirstMessagePool, rng), nil
	}
	completion, err := llm.Generate(ctx, []Message{{Role: RoleSystem, Content: system}}, c.AI.Model, llmTemperature, c.AI.MaxTokens)
	if err != nil {
		return lexicon.FirstMessageFallback, nil
	}
	parsed := parser.Parse(completion.Content)
	if len(parsed.Messages) == 0 {
		return lexicon.FirstMessageFallback, nil
	}
	return humanizer.Humanize(parsed.Messages[0], rng), nil
}
