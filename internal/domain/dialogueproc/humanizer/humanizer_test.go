package humanizer_test

import (
	"math/rand"
	"strings"
	"testing"

	"telegram-fleet/internal/domain/dialogueproc/humanizer"
)

func TestLimitQuestions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "noQuestion", in: "привет как дела", want: "привет как дела"},
		{name: "singleQuestion", in: "как дела?", want: "как дела?"},
		{name: "twoQuestionsKeepsFirst", in: "как дела? что делаешь?", want: "как дела?"},
		{name: "questionAmongStatements", in: "привет. как дела? все ок.", want: "привет. как дела? все ок."},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := humanizer.LimitQuestions(tc.in)
			if got != tc.want {
				t.Fatalf("LimitQuestions(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestHumanizeStripsCommandTags(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	got := humanizer.Humanize("лови ссылку [SEND_LINKS]", rng)
	if strings.Contains(got, "[") {
		t.Fatalf("Humanize() left a bracketed tag: %q", got)
	}
}

func TestHumanizeIdempotentCommandFree(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	once := humanizer.Humanize("Понимаю, конечно помогу! Что хочешь узнать?", rng)
	twice := humanizer.Humanize(once, rng)

	if strings.Contains(twice, "[") {
		t.Fatalf("second pass reintroduced a bracketed tag: %q", twice)
	}
	onceQ := strings.Count(once, "?")
	twiceQ := strings.Count(twice, "?")
	if onceQ > 1 || twiceQ > 1 {
		t.Fatalf("question count exceeded 1: once=%d twice=%d", onceQ, twiceQ)
	}
}

func TestHumanizeEmptyInput(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	if got := humanizer.Humanize("", rng); got != "" {
		t.Fatalf("Humanize(\"\") = %q, want empty", got)
	}
}
