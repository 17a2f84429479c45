package telegram

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func TestClassifyContextErrors(t *testing.T) {
	if got := Classify(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("expected context.Canceled to pass through, got %v", got)
	}

	got := Classify(context.DeadlineExceeded)
	var timeoutErr *ErrTimeout
	if !errors.As(got, &timeoutErr) {
		t.Fatalf("expected *ErrTimeout, got %T: %v", got, got)
	}
}

func TestClassifyNetworkError(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	got := Classify(netErr)
	var networkErr *ErrNetwork
	if !errors.As(got, &networkErr) {
		t.Fatalf("expected *ErrNetwork, got %T: %v", got, got)
	}
}

func TestErrFloodMessage(t *testing.T) {
	err := &ErrFlood{Wait: 60 * time.Second}
	if err.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestParseInviteLink(t *testing.T) {
	cases := []struct {
		in           string
		wantUsername string
		wantHash     string
		wantErr      bool
	}{
		{"@some_channel", "some_channel", "", false},
		{"t.me/some_channel", "some_channel", "", false},
		{"https://t.me/some_channel", "some_channel", "", false},
		{"t.me/+AbCdEf123", "", "AbCdEf123", false},
		{"t.me/joinchat/AbCdEf123", "", "AbCdEf123", false},
		{"not a link!!", "", "", true},
	}

	for _, tc := range cases {
		username, hash, err := parseInviteLink(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseInviteLink(%q): expected error, got none", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseInviteLink(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if username != tc.wantUsername || hash != tc.wantHash {
			t.Errorf("parseInviteLink(%q) = (%q, %q), want (%q, %q)", tc.in, username, hash, tc.wantUsername, tc.wantHash)
		}
	}
}
