package devicefingerprint

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestForIsDeterministic(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	a := For(id, now)
	b := For(id, now)
	if a != b {
		t.Fatalf("For is not deterministic: %+v != %+v", a, b)
	}
}

func TestForDiffersAcrossAccounts(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	a := For(uuid.MustParse("11111111-1111-1111-1111-111111111111"), now)
	b := For(uuid.MustParse("22222222-2222-2222-2222-222222222222"), now)
	if a == b {
		t.Fatalf("expected different fingerprints for different accounts, got identical %+v", a)
	}
}

func TestForAppVersionNeverRegresses(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	versionIndex := func(f Fingerprint) int {
		for i, v := range appVersions {
			if v == f.AppVersion {
				return i
			}
		}
		t.Fatalf("unknown app version %q", f.AppVersion)
		return -1
	}

	prev := versionIndex(For(id, base))
	for day := 1; day <= 400; day++ {
		cur := versionIndex(For(id, base.AddDate(0, 0, day)))
		if cur < prev {
			t.Fatalf("app version regressed on day %d: %d -> %d", day, prev, cur)
		}
		prev = cur
	}
}
