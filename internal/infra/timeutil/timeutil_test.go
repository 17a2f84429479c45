package timeutil_test

import (
	"testing"
	"time"

	"telegram-fleet/internal/infra/timeutil"
)

func TestParseLocationIANA(t *testing.T) {
	t.Parallel()

	loc, err := timeutil.ParseLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("ParseLocation(Europe/Moscow) error: %v", err)
	}
	if loc.String() != "Europe/Moscow" {
		t.Fatalf("location = %s, want Europe/Moscow", loc)
	}
}

func TestParseUTCOffsetForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in         string
		wantOffset int // секунды
	}{
		{"Z", 0},
		{"UTC", 0},
		{"GMT", 0},
		{"+03:00", 3 * 3600},
		{"-0700", -7 * 3600},
		{"UTC+3", 3 * 3600},
		{"GMT-04:30", -(4*3600 + 30*60)},
		{"+14", 14 * 3600},
	}
	for _, tc := range cases {
		loc, ok := timeutil.ParseUTCOffsetToLocation(tc.in)
		if !ok {
			t.Errorf("ParseUTCOffsetToLocation(%q) not recognized", tc.in)
			continue
		}
		_, offset := time.Now().In(loc).Zone()
		if offset != tc.wantOffset {
			t.Errorf("ParseUTCOffsetToLocation(%q) offset = %d, want %d", tc.in, offset, tc.wantOffset)
		}
	}
}

func TestParseUTCOffsetRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "+15", "+03:99", "03:00", "++3", "+123"} {
		if _, ok := timeutil.ParseUTCOffsetToLocation(in); ok {
			t.Errorf("ParseUTCOffsetToLocation(%q) accepted, want rejection", in)
		}
	}
}

func TestParseLocationInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "Nowhere/City", "+99"} {
		if _, err := timeutil.ParseLocation(in); err == nil {
			t.Errorf("ParseLocation(%q) succeeded, want error", in)
		}
	}
}
