// Package lexicon содержит словарные пулы и взвешенную выборку, которыми
// конвейер диалогов распознаёт намерения пользователя и составляет
// шаблонные реплики без обращения к LLM.
package lexicon

import (
	"math/rand"
	"strings"
	"unicode/utf8"
)

// WeightedItem — одна запись взвешенного пула.
type WeightedItem struct {
	Text   string
	Weight int
}

// Pick выбирает один элемент пула пропорционально его весу. Паникует, если
// pool пуст или суммарный вес равен 0 — это программная ошибка конфигурации
// пула, а не runtime-условие, которое стоит проглатывать.
func Pick(pool []WeightedItem, rng *rand.Rand) string {
	total := 0
	for _, it := range pool {
		total += it.Weight
	}
	if total <= 0 {
		panic("lexicon: pool has zero total weight")
	}
	r := rng.Intn(total)
	for _, it := range pool {
		if r < it.Weight {
			return it.Text
		}
		r -= it.Weight
	}
	return pool[len(pool)-1].Text
}

// ContainsAny сообщает, встречается ли в text (без учёта регистра) хотя бы
// одно слово из words.
func ContainsAny(text string, words []string) bool {
	low := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(low, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// CountOccurrences суммирует число вхождений (без учёта регистра) каждого
// слова из words в text — используется интерес-счётчиком.
func CountOccurrences(text string, words []string) int {
	low := strings.ToLower(text)
	n := 0
	for _, w := range words {
		n += strings.Count(low, strings.ToLower(w))
	}
	return n
}

// Канонические заглушки нетекстовых входящих сообщений. Telegram-адаптер
// подставляет их вместо пустого текста, а спам-гейт сверяет входящие с этим
// же набором точным равенством — обе стороны обязаны использовать именно
// эти константы, иначе гейт молча пропускает спам.
const (
	PlaceholderSticker   = "[стикер]"
	PlaceholderPhoto     = "[фото]"
	PlaceholderVideo     = "[видео]"
	PlaceholderVideoNote = "[видео-сообщение]"
	PlaceholderVoice     = "[голосовое сообщение]"
	PlaceholderAudio     = "[аудио]"
	PlaceholderFile      = "[файл]"
)

// MediaPlaceholders — полный набор заглушек, распознаваемых спам-гейтом.
var MediaPlaceholders = []string{
	PlaceholderSticker, PlaceholderPhoto, PlaceholderVideo,
	PlaceholderVideoNote, PlaceholderVoice, PlaceholderAudio, PlaceholderFile,
}

// RejectionExact — точные короткие формы отказа.
var RejectionExact = []string{"нее", "неа", "не", "нет", "пас", "неинтересно", "не надо", "не буду"}

// RejectionExtended — развёрнутые фразы отказа, матчатся подстрокой.
var RejectionExtended = []string{
	"не интересует", "не интересно", "спасибо, не надо", "не нужно",
	"отстань", "не пиши больше", "удали мой номер",
}

// IsRejection сообщает, распознан ли text как отказ: точное
// совпадение короткой формы, любая фраза из расширенного списка, либо
// короткое сообщение, начинающееся с "не "/"нет ".
func IsRejection(text string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	for _, w := range RejectionExact {
		if trimmed == w {
			return true
		}
	}
	if ContainsAny(trimmed, RejectionExtended) {
		return true
	}
	if utf8.RuneCountInString(trimmed) <= 20 && (strings.HasPrefix(trimmed, "не ") || strings.HasPrefix(trimmed, "нет ")) {
		return true
	}
	return false
}

// ExplicitLinkRequest — слова, явно запрашивающие ссылку/канал.
var ExplicitLinkRequest = []string{"ссылк", "канал", "скинь ссылку", "скинешь", "где смотреть", "акк", "ссыль"}

// ConsentShort — короткие согласия, матчатся после упоминания канала.
var ConsentShort = []string{"давай", "да", "ок", "ага", "угу", "почему нет", "давай скидывай"}

// ChannelKeywords — слова, которыми помечается наше собственное упоминание
// канала/ссылки в нашем последнем исходящем сообщении.
var ChannelKeywords = []string{"канал", "ссылк", "подпишись", "t.me"}

// SoftInterest — слова, сигнализирующие мягкий интерес без явного запроса
// ссылки.
var SoftInterest = []string{"интересно", "расскажи", "а как", "сколько зарабатываешь", "стабильно?"}

// TradingStyleWords, SignalsWords, ChannelMentionWords, PositiveWords — лексиконы
// интерес-счётчика: Δ = 2·style + 3·signals + 4·channel + 1·positive.
var (
	TradingStyleWords  = []string{"скальпинг", "свинг", "фьюч", "спот", "шорт", "лонг"}
	SignalsWords       = []string{"сигнал", "сигналы", "точка входа", "тейк", "стоп"}
	ChannelMentionWords = []string{"канал", "сообщество", "группа"}
	PositiveWords      = []string{"круто", "класс", "супер", "огонь", "годно", "хорошо"}
)

// SecondMessagePool — сценарный пул второго исходящего сообщения, которое
// отправляется без обращения к LLM.
var SecondMessagePool = []WeightedItem{
	{Text: "а ты сам что по рынку смотришь, скальпинг или свинг?", Weight: 3},
	{Text: "ты на фьючах торгуешь или спот?", Weight: 3},
	{Text: "давно вообще в теме или только начинаешь?", Weight: 2},
}

// FirstMessagePool — пул приветствий для первого исходящего сообщения,
// смещённый в сторону самых простых.
var FirstMessagePool = []WeightedItem{
	{Text: "привет", Weight: 5},
	{Text: "хай", Weight: 3},
	{Text: "здарова", Weight: 2},
	{Text: "прив, как сам?", Weight: 1},
}

// FirstMessageFallback — безопасный фоллбэк, если путь через LLM не сработал.
const FirstMessageFallback = "ты на фьючах торгуешь или спот?"

// LinkIntroPool / LinkIntroRepeatPool — вступительные фразы блока со ссылкой
//: обычная и "я уже присылал, вот снова".
var LinkIntroPool = []WeightedItem{
	{Text: "ща скину", Weight: 3},
	{Text: "лови", Weight: 2},
	{Text: "держи", Weight: 2},
}

var LinkIntroRepeatPool = []WeightedItem{
	{Text: "я уже скидывал, вот ещё раз", Weight: 3},
	{Text: "вот ещё раз, если потерял", Weight: 2},
}

// LinkExplanationPool — пояснение после ссылки.
var LinkExplanationPool = []WeightedItem{
	{Text: "там разборы и сигналы норм заходят", Weight: 3},
	{Text: "посмотри, там каждый день контент", Weight: 2},
}

// RejectionCloserPool — вежливое прощание после отказа.
var RejectionCloserPool = []WeightedItem{
	{Text: "понял, без проблем, удачи", Weight: 3},
	{Text: "ок, не буду навязываться", Weight: 2},
}
