// Package batcher реализует буфер входящих сообщений на пару (account, user)
//: добавление сообщения сбрасывает таймер дебаунса, но жёсткий потолок с
// момента первого сообщения в буфере форсирует сброс независимо от
// продолжающегося набора текста. Пара таймеров на ключ (debounce + ceiling)
// и накопление payload, а не голый fn-дебаунсер.
package batcher

import (
	"context"
	"sync"
	"time"
)

// DefaultDebounce — пауза после последнего сообщения перед сбросом буфера.
const DefaultDebounce = 3 * time.Second

// DefaultCeiling — максимальное время жизни буфера с первого сообщения.
const DefaultCeiling = 15 * time.Second

// Key идентифицирует буфер: пара (account, user).
type Key struct {
	AccountID string
	UserID    int64
}

// Flush — накопленный пакет сообщений, переданный колбэку при сбросе.
type Flush struct {
	Key             Key
	Texts           []string
	TelegramMsgIDs  []int64
	FirstQueuedAt   time.Time
}

// Callback вызывается при сбросе буфера (по дебаунсу или по потолку).
type Callback func(Flush)

type entry struct {
	texts          []string
	telegramMsgIDs []int64
	firstQueuedAt  time.Time
	debounceTimer  *time.Timer
	ceilingTimer   *time.Timer
}

// Batcher — потокобезопасный буфер входящих сообщений с дебаунсом и потолком.
type Batcher struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	debounce time.Duration
	ceiling  time.Duration
	onFlush  Callback

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт батчер с заданными задержками дебаунса/потолка и колбэком сброса.
func New(debounce, ceiling time.Duration, onFlush Callback) *Batcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Batcher{
		entries:  make(map[Key]*entry),
		debounce: debounce,
		ceiling:  ceiling,
		onFlush:  onFlush,
	}
}

// Start привязывает батчер к контексту: при его отмене все накопленные буферы
// сбрасываются немедленно, как при Stop().
func (b *Batcher) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.ctx = runCtx
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Go(func() { b.waitCancel(runCtx) })
}

// Stop отменяет контекст, дожидается наблюдателя и синхронно сбрасывает все
// оставшиеся буферы — все отложенные таймеры "чисто" прерываются.
func (b *Batcher) Stop() {
	b.runMu.Lock()
	var cancel context.CancelFunc
	b.mu.Lock()
	cancel = b.cancel
	b.cancel = nil
	b.ctx = nil
	b.mu.Unlock()
	b.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	b.wg.Wait()
	b.flushAll()
}

// Add помещает сообщение в буфер для key, сбрасывая таймер дебаунса. При
// первом сообщении для key также запускает таймер жёсткого потолка.
func (b *Batcher) Add(key Key, text string, telegramMsgID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil || b.ctx.Err() != nil {
		// батчер не запущен — сбрасываем сразу одним сообщением
		fn := b.onFlush
		if fn != nil {
			go fn(Flush{Key: key, Texts: []string{text}, TelegramMsgIDs: []int64{telegramMsgID}, FirstQueuedAt: time.Now()})
		}
		return
	}

	e, exists := b.entries[key]
	if !exists {
		now := time.Now()
		e = &entry{firstQueuedAt: now}
		b.entries[key] = e
		e.ceilingTimer = time.AfterFunc(b.ceiling, func() { b.flush(key) })
	}
	e.texts = append(e.texts, text)
	if telegramMsgID != 0 {
		e.telegramMsgIDs = append(e.telegramMsgIDs, telegramMsgID)
	}

	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	e.debounceTimer = time.AfterFunc(b.debounce, func() { b.flush(key) })
}

// flush извлекает и удаляет буфер key под локом, затем вызывает колбэк вне
// критической секции. Безопасен при повторном вызове (потолок и дебаунс могут
// сработать почти одновременно) — вторая попытка находит пустую карту.
func (b *Batcher) flush(key Key) {
	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.entries, key)
	if e.debounceTimer != nil {
		e.debounceTimer.Stop()
	}
	if e.ceilingTimer != nil {
		e.ceilingTimer.Stop()
	}
	b.mu.Unlock()

	if b.onFlush != nil && len(e.texts) > 0 {
		b.onFlush(Flush{
			Key:            key,
			Texts:          e.texts,
			TelegramMsgIDs: e.telegramMsgIDs,
			FirstQueuedAt:  e.firstQueuedAt,
		})
	}
}

func (b *Batcher) waitCancel(ctx context.Context) {
	<-ctx.Done()
	b.flushAll()
}

func (b *Batcher) flushAll() {
	b.mu.Lock()
	keys := make([]Key, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.flush(k)
	}
}
