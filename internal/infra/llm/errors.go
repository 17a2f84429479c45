package llm

import (
	"fmt"
	"time"
)

// RateLimitError сигнализирует, что провайдер отклонил вызов по причине
// рейт-лимита (HTTP 429). Никогда не повторяется на этом уровне —
// dialogueproc.isRateLimit проверяет RateLimited() дак-тайпингом и
// прокидывает ошибку наверх без ретраев.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: rate limited, retry after %s", e.RetryAfter)
}

// RateLimited удовлетворяет неэкспортируемому интерфейсу rateLimiter,
// который dialogueproc проверяет обычным приведением типа.
func (e *RateLimitError) RateLimited() bool { return true }

// StopRetry запрещает троттлеру повторять вызов после рейт-лимита.
func (e *RateLimitError) StopRetry() bool { return true }

// ConnectionError оборачивает сбой транспортного уровня (dial/timeout/EOF до
// чтения ответа). Повторяется внутри Client.Generate с ограниченным
// экспоненциальным бэкоффом.
type ConnectionError struct {
	Raw error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("llm: connection error: %v", e.Raw) }
func (e *ConnectionError) Unwrap() error { return e.Raw }

// ProviderError оборачивает ответ, который провайдер вернул, но из которого
// не удалось собрать пригодное завершение (5xx, битое тело, пустой choices).
// На этом уровне не повторяется — dialogueproc.callLLM пробует следующую
// модель в цепочке фолбэков.
type ProviderError struct {
	Raw        error
	StatusCode int
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm: provider error (status %d): %v", e.StatusCode, e.Raw)
}
func (e *ProviderError) Unwrap() error { return e.Raw }

// StopRetry запрещает троттлеру повторять вызов: следующую модель в цепочке
// выбирает доменный слой, а не транспорт.
func (e *ProviderError) StopRetry() bool { return true }
