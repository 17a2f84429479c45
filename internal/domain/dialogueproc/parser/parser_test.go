package parser_test

import (
	"reflect"
	"testing"

	"telegram-fleet/internal/domain/dialogueproc/parser"
)

func TestParseBoundaries(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		in       string
		messages []string
		action   parser.Action
	}{
		{
			name:     "plainSentence",
			in:       "привет, как дела",
			messages: []string{"привет, как дела"},
			action:   parser.ActionContinue,
		},
		{
			name:     "hardSplitter",
			in:       "первое ||| второе",
			messages: []string{"первое", "второе"},
			action:   parser.ActionContinue,
		},
		{
			name:     "sendLinksTag",
			in:       "лови ссылку [SEND_LINKS]",
			messages: []string{"лови ссылку"},
			action:   parser.ActionSendLinks,
		},
		{
			name:     "negativeFinishTag",
			in:       "ок, удачи [NEGATIVE_FINISH]",
			messages: []string{"ок, удачи"},
			action:   parser.ActionNegativeFinish,
		},
		{
			name:     "handoffOnly",
			in:       "[HANDOFF]",
			messages: []string{},
			action:   parser.ActionHandoff,
		},
		{
			name:     "emptyMiddlePartDropped",
			in:       "раз ||| ||| два",
			messages: []string{"раз", "два"},
			action:   parser.ActionContinue,
		},
		{
			name:     "lowercaseFirstLetter",
			in:       "Всё понял.",
			messages: []string{"всё понял"},
			action:   parser.ActionContinue,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := parser.Parse(tc.in)
			if !reflect.DeepEqual(got.Messages, tc.messages) && !(len(got.Messages) == 0 && len(tc.messages) == 0) {
				t.Fatalf("Parse(%q).Messages = %#v, want %#v", tc.in, got.Messages, tc.messages)
			}
			if got.Action != tc.action {
				t.Fatalf("Parse(%q).Action = %v, want %v", tc.in, got.Action, tc.action)
			}
			if got.Raw != tc.in {
				t.Fatalf("Parse(%q).Raw = %q, want original text", tc.in, got.Raw)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	text := "первое сообщение ||| второе сообщение"
	got := parser.Parse(text)
	if got.Raw != text {
		t.Fatalf("Parse(%q).Raw = %q, want %q", text, got.Raw, text)
	}
}
