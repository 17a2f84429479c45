package dialogueproc

import "context"

// Role — роль сообщения в истории, передаваемой LLM.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message — одна реплика истории диалога в формате, который понимает LLM.
type Message struct {
	Role    Role
	Content string
}

// Completion — ответ провайдера LLM.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
}

// Provider — контракт провайдера LLM, реализуемый internal/infra/llm.
// Повторы сбоев соединения выполняет сама реализация. Вызывающий код
// различает только рейт-лимит — ошибку с методом RateLimited() bool (см.
// isRateLimit): она не ретраится и возвращается сразу; любая другая ошибка
// переключает на следующую модель цепочки фоллбэков —
// пакет dialogueproc знает только о контракте, не о транспорте.
type Provider interface {
	Generate(ctx context.Context, messages []Message, model string, temperature float64, maxTokens int) (Completion, error)
}
