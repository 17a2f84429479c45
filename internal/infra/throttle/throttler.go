// Package throttle — темп и повторные попытки для внешних интеграций флота
// (проверки прокси, служебные RPC). Пейсинг — token bucket поверх
// golang.org/x/time/rate; ретраи — экспоненциальный backoff с джиттером и
// поддержкой серверных указаний подождать (retry_after, FLOOD_WAIT и т.п.)
// через настраиваемые WaitExtractor. Ошибка, реализующая StopRetryer,
// прекращает ретраи немедленно.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// defaultBurstFactor задаёт burst по умолчанию как кратный rate: короткий
// всплеск до 2*rate операций, дальше ровный темп.
const defaultBurstFactor = 2

// Параметры backoff по умолчанию: 2^attempt секунд, не более 60с на шаг.
const (
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 60 * time.Second
)

// Джиттер каждого шага backoff: множитель из [0.85, 1.15).
const (
	jitterMin   = 0.85
	jitterRange = 0.3
)

// WaitExtractor анализирует ошибку и, если распознал её формат, возвращает
// длительность ожидания, назначенную сервером. Экстракторы вызываются в
// порядке регистрации; первый совпавший определяет паузу, и такая пауза не
// расходует лимит ретраев.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer объявляет необходимость немедленно прекратить повторные
// попытки. Ошибка с таким интерфейсом возвращается вызывающему без задержек.
type StopRetryer interface {
	StopRetry() bool
}

// Option настраивает троттлер при создании.
type Option func(*Throttler)

// WithMaxRetries ограничивает число повторных попыток. Значение <=0 —
// без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithBackoff переопределяет базу и потолок экспоненциального backoff.
func WithBackoff(base, cap time.Duration) Option {
	return func(t *Throttler) {
		if base > 0 {
			t.backoffBase = base
		}
		if cap > 0 {
			t.backoffCap = cap
		}
	}
}

// WithWaitExtractors регистрирует экстракторы серверных задержек.
func WithWaitExtractors(extractors ...WaitExtractor) Option {
	return func(t *Throttler) {
		t.waitExtractors = append(t.waitExtractors, extractors...)
	}
}

// WithRandom подменяет источник случайности джиттера (для тестов).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// Throttler сочетает token bucket и стратегию ретраев. Потокобезопасен:
// Do может выполняться из нескольких горутин; внутреннее состояние после
// New не мутируется.
type Throttler struct {
	limiter *rate.Limiter

	waitExtractors []WaitExtractor
	maxRetries     int

	backoffBase time.Duration
	backoffCap  time.Duration

	randomFn func() float64
}

// New создаёт троттлер с темпом ratePerSec операций в секунду и burst
// 2*ratePerSec. Готов к использованию сразу, без отдельного запуска.
func New(ratePerSec int, opts ...Option) *Throttler {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	t := &Throttler{
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*defaultBurstFactor),
		maxRetries:  -1,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		randomFn:    rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do выполняет fn под лимитом темпа и с ретраями.
// Алгоритм:
//  1. ждём токен лимитера (с уважением к ctx);
//  2. вызываем fn;
//  3. если err: StopRetryer или сорванный контекст — вернуть сразу;
//     экстрактор дал паузу — подождать и повторить без роста attempt;
//     иначе экспоненциальный backoff с джиттером до исчерпания лимита.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	attempt := 0
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		waitDur, hasWait := t.extractWait(callErr)
		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr
		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr
		case hasWait:
			if wErr := sleepCtx(ctx, waitDur); wErr != nil {
				return wErr
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", t.maxRetries, callErr)
		}

		sleep := t.backoff(attempt)
		attempt++
		if wErr := sleepCtx(ctx, sleep); wErr != nil {
			return wErr
		}
	}
}

// extractWait прогоняет цепочку WaitExtractor и возвращает первую
// распознанную паузу.
func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, extractor := range t.waitExtractors {
		if extractor == nil {
			continue
		}
		if wait, ok := extractor(err); ok {
			return wait, true
		}
	}
	return 0, false
}

// backoff: base * 2^attempt, не выше cap, умноженное на джиттер.
func (t *Throttler) backoff(attempt int) time.Duration {
	d := t.backoffBase << uint(attempt)
	if d <= 0 || d > t.backoffCap {
		d = t.backoffCap
	}
	jitter := t.randomFn()*jitterRange + jitterMin
	return time.Duration(float64(d) * jitter)
}

// sleepCtx ждёт duration или отмену контекста.
func sleepCtx(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
