// Package parser разбирает сырой ответ LLM на список реплик и тег действия
//: `|||` — жёсткий разделитель сообщений, не более одного
// квадратного тега действия во всём тексте.
package parser

import (
	"regexp"
	"strings"
)

// Action — тег действия, извлечённый из ответа LLM.
type Action string

const (
	ActionContinue       Action = "CONTINUE"
	ActionSendLinks      Action = "SEND_LINKS"
	ActionNegativeFinish Action = "NEGATIVE_FINISH"
	ActionCreativeSent   Action = "CREATIVE_SENT"
	ActionHandoff        Action = "HANDOFF"
)

// Parsed — результат разбора одного ответа LLM.
type Parsed struct {
	Messages []string
	Action   Action
	Raw      string
}

var tagPattern = regexp.MustCompile(`(?i)\[(SEND_LINKS|NEGATIVE_FINISH|CREATIVE_SENT|HANDOFF)\]`)

// capitalThenLower совпадает с заглавной буквой, за которой идёт строчная —
// это именно тот случай, когда первую букву безопасно привести к нижнему
// регистру, не трогая аббревиатуры и имена собственные в середине фразы.
var capitalThenLower = regexp.MustCompile(`^([A-ZА-ЯЁ])([a-zа-яё])`)

// Parse разбирает text по грамматике разделителя и командных тегов.
func Parse(text string) Parsed {
	raw := text

	action := ActionContinue
	if loc := tagPattern.FindStringSubmatchIndex(text); loc != nil {
		tag := strings.ToUpper(text[loc[2]:loc[3]])
		action = Action(tag)
		text = text[:loc[0]] + text[loc[1]:]
	}

	parts := strings.Split(text, "|||")
	messages := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned := clean(p)
		if cleaned == "" {
			continue
		}
		messages = append(messages, cleaned)
	}

	return Parsed{Messages: messages, Action: action, Raw: raw}
}

// clean: привести первую букву к нижнему регистру,
// когда это заглавная буква перед строчной; убрать завершающую точку;
// схлопнуть повторяющиеся пробелы; снять висящие '|' по краям.
func clean(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "|")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	s = capitalThenLower.ReplaceAllStringFunc(s, func(m string) string {
		r := []rune(m)
		return strings.ToLower(string(r[0])) + string(r[1:])
	})

	s = strings.TrimSuffix(s, ".")

	fields := strings.Fields(s)
	s = strings.Join(fields, " ")

	return s
}
