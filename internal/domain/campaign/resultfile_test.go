package campaign_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/campaign"
)

func TestResultWriterAppendFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := campaign.NewResultWriter(dir)
	cid := uuid.New()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if err := w.Append(cid, campaign.OutcomeSuccess, "12345", "", at); err != nil {
		t.Fatalf("Append(success) error: %v", err)
	}
	if err := w.Append(cid, campaign.OutcomeFailure, "@someone", "user_rejected", at); err != nil {
		t.Fatalf("Append(failure) error: %v", err)
	}

	success, err := os.ReadFile(filepath.Join(dir, "targets", cid.String()+"_success.txt"))
	if err != nil {
		t.Fatalf("read success file: %v", err)
	}
	wantSuccess := "12345\t" + at.Format(time.RFC3339) + "\n"
	if string(success) != wantSuccess {
		t.Fatalf("success file = %q, want %q", success, wantSuccess)
	}

	failure, err := os.ReadFile(filepath.Join(dir, "targets", cid.String()+"_failure.txt"))
	if err != nil {
		t.Fatalf("read failure file: %v", err)
	}
	wantFailure := "@someone\tuser_rejected\t" + at.Format(time.RFC3339) + "\n"
	if string(failure) != wantFailure {
		t.Fatalf("failure file = %q, want %q", failure, wantFailure)
	}
}

func TestResultWriterAppendOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := campaign.NewResultWriter(dir)
	cid := uuid.New()

	for i := range 3 {
		if err := w.Append(cid, campaign.OutcomeOther, "user"+string(rune('a'+i)), "", time.Now()); err != nil {
			t.Fatalf("Append() #%d error: %v", i, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(dir, "targets", cid.String()+"_other.txt"))
	if err != nil {
		t.Fatalf("read other file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (append must never overwrite)", len(lines))
	}
}

func TestRemoveFromSource(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "targets.txt")
	content := "@Alice\nbob\n+79001234567\n@carol\n"
	if err := os.WriteFile(src, []byte(content), 0o600); err != nil {
		t.Fatalf("seed source file: %v", err)
	}

	// Совпадение без учёта регистра и без ведущего '@'.
	target := &campaign.UserTarget{Username: "alice"}
	if err := campaign.RemoveFromSource(src, target); err != nil {
		t.Fatalf("RemoveFromSource() error: %v", err)
	}

	got, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("read source after removal: %v", err)
	}
	want := "bob\n+79001234567\n@carol\n"
	if string(got) != want {
		t.Fatalf("source after removal = %q, want %q", got, want)
	}
}

func TestRemoveFromSourceMissingFile(t *testing.T) {
	t.Parallel()

	target := &campaign.UserTarget{Username: "ghost"}
	if err := campaign.RemoveFromSource(filepath.Join(t.TempDir(), "absent.txt"), target); err != nil {
		t.Fatalf("RemoveFromSource() on missing file error: %v", err)
	}
	if err := campaign.RemoveFromSource("", target); err != nil {
		t.Fatalf("RemoveFromSource() with empty path error: %v", err)
	}
}

func TestTargetIdentifierPreference(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		target campaign.UserTarget
		want   string
	}{
		{"telegramIDWins", campaign.UserTarget{TelegramID: 42, Username: "u", Phone: "+7"}, "42"},
		{"usernameSecond", campaign.UserTarget{Username: "u", Phone: "+7"}, "u"},
		{"phoneLast", campaign.UserTarget{Phone: "+7"}, "+7"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.target.Identifier(); got != tc.want {
				t.Fatalf("Identifier() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTargetMatchesSourceLine(t *testing.T) {
	t.Parallel()

	target := &campaign.UserTarget{TelegramID: 42, Username: "@Alice", Phone: "+79001234567"}
	cases := []struct {
		line string
		want bool
	}{
		{"@alice", true},
		{"ALICE", true},
		{"  @Alice  ", true},
		{"42", true},
		{"+79001234567", true},
		{"bob", false},
		{"43", false},
	}
	for _, tc := range cases {
		if got := target.MatchesSourceLine(tc.line); got != tc.want {
			t.Errorf("MatchesSourceLine(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestTargetRequeue(t *testing.T) {
	t.Parallel()

	target := &campaign.UserTarget{Status: campaign.TargetPending}
	d := uuid.New()
	target.Assign(d)
	if target.Status != campaign.TargetAssigned || target.DialogueID == nil {
		t.Fatalf("after Assign: status=%s dialogue=%v", target.Status, target.DialogueID)
	}
	target.Requeue()
	if target.Status != campaign.TargetPending || target.DialogueID != nil {
		t.Fatalf("after Requeue: status=%s dialogue=%v", target.Status, target.DialogueID)
	}
}
