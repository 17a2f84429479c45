// Package humanizer post-обрабатывает сырой ответ LLM так, чтобы он читался
// как живое сообщение, а не как ответ ассистента. Детерминированные шаги
// реализованы как чистые
// функции, случайные — как функции, принимающие *rand.Rand, чтобы вызывающая
// сторона владела источником случайности, а не держала глобальный PRNG
// под мьютексом.
package humanizer

import (
	"math/rand"
	"regexp"
	"strings"
	"unicode"
)

var (
	commandTagPattern = regexp.MustCompile(`(?i)\[(SEND_LINKS|NEGATIVE_FINISH|CREATIVE_SENT|HANDOFF)\]`)
	genericTagPattern = regexp.MustCompile(`\[.*?_.*?\]`)
	sentenceSplit     = regexp.MustCompile(`([?.!])`)
)

// formalPrefixes — таблица упрощения формальных фраз. Порядок не важен:
// каждая запись проверяется независимо через strings.HasPrefix.
var formalPrefixes = []struct {
	old string
	new string
}{
	{"Понимаю,", "понимаю"},
	{"Конечно,", "ну"},
	{"Да,", "да"},
	{"Нет,", "нет"},
	{"Хорошо,", "ок"},
	{"К сожалению,", "блин"},
	{"На самом деле,", "по факту"},
	{"Кстати,", "кстати"},
	{"Действительно,", "да"},
}

// Humanize применяет полный конвейер очеловечивания к сырому ответу LLM.
// rng управляет всеми стохастическими шагами (lowercase-first 70%,
// drop-comma 25%, drop-trailing-period 30%) — передавайте *rand.New с любым
// источником; для тестов используйте детерминированный seed.
func Humanize(text string, rng *rand.Rand) string {
	if text == "" {
		return text
	}

	result := strings.TrimSpace(text)

	result = commandTagPattern.ReplaceAllString(result, "")
	result = genericTagPattern.ReplaceAllString(result, "")
	result = strings.TrimSpace(result)

	result = LimitQuestions(result)

	if result != "" {
		r := []rune(result)
		if unicode.IsUpper(r[0]) && rng.Float64() < 0.7 {
			r[0] = unicode.ToLower(r[0])
			result = string(r)
		}
	}

	var sb strings.Builder
	for _, ch := range result {
		if ch == ',' && rng.Float64() < 0.25 {
			continue
		}
		sb.WriteRune(ch)
	}
	result = sb.String()

	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}

	if strings.HasSuffix(result, ".") && rng.Float64() < 0.3 {
		result = strings.TrimSuffix(result, ".")
	}

	result = strings.ReplaceAll(result, "!", ".")

	for _, rep := range formalPrefixes {
		if strings.HasPrefix(result, rep.old) {
			result = rep.new + result[len(rep.old):]
			break
		}
	}

	return strings.TrimSpace(result)
}

// LimitQuestions оставляет не более одного предложения с вопросительным
// знаком, сохраняя все невопросительные предложения в исходном порядке.
func LimitQuestions(text string) string {
	if !strings.Contains(text, "?") {
		return text
	}

	chunks := sentenceSplit.Split(text, -1)
	seps := sentenceSplit.FindAllString(text, -1)

	var sentences []string
	var buf strings.Builder
	sepIdx := 0
	for _, chunk := range chunks {
		buf.WriteString(chunk)
		if sepIdx < len(seps) {
			buf.WriteString(seps[sepIdx])
			sepIdx++
			s := strings.TrimSpace(buf.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			buf.Reset()
		}
	}
	if tail := strings.TrimSpace(buf.String()); tail != "" {
		sentences = append(sentences, tail)
	}

	if len(sentences) == 0 {
		return text
	}

	var result []string
	questionSeen := false
	for _, s := range sentences {
		if strings.Contains(s, "?") {
			if !questionSeen {
				result = append(result, s)
				questionSeen = true
			}
			continue
		}
		result = append(result, s)
	}

	final := strings.TrimSpace(strings.Join(result, " "))
	if final == "" {
		return text
	}
	return final
}
