package bridge

import (
	"errors"
	"testing"
	"time"
)

func TestAbuseGateAdmitsUpToThreshold(t *testing.T) {
	g := NewAbuseGate(nil)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fakeNow }

	for i := 0; i < BanThreshold; i++ {
		if err := g.Admit("203.0.113.7"); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
	}
}

func TestAbuseGateBansAfterThreshold(t *testing.T) {
	g := NewAbuseGate(nil)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fakeNow }

	for i := 0; i < BanThreshold; i++ {
		if err := g.Admit("203.0.113.7"); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}
	}
	if err := g.Admit("203.0.113.7"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("11th attempt: got %v, want ErrRateLimited", err)
	}
	if err := g.Admit("203.0.113.7"); !errors.Is(err, ErrBanned) {
		t.Fatalf("attempt during ban: got %v, want ErrBanned", err)
	}
}

func TestAbuseGateBanExpires(t *testing.T) {
	g := NewAbuseGate(nil)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fakeNow }

	for i := 0; i <= BanThreshold; i++ {
		_ = g.Admit("198.51.100.3")
	}
	fakeNow = fakeNow.Add(BanDuration + time.Second)
	if err := g.Admit("198.51.100.3"); err != nil {
		t.Fatalf("after ban expiry: unexpected error: %v", err)
	}
}

func TestAbuseGateWindowEviction(t *testing.T) {
	g := NewAbuseGate(nil)
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return fakeNow }

	for i := 0; i < BanThreshold; i++ {
		_ = g.Admit("192.0.2.1")
	}
	fakeNow = fakeNow.Add(AttemptWindow + time.Second)
	if err := g.Admit("192.0.2.1"); err != nil {
		t.Fatalf("after window eviction: unexpected error: %v", err)
	}
}

func TestValidateUpgradeHeadersMissing(t *testing.T) {
	h := make(map[string][]string)
	if err := ValidateUpgradeHeaders(h, "example.com"); !errors.Is(err, ErrBadUpgradeHeaders) {
		t.Fatalf("got %v, want ErrBadUpgradeHeaders", err)
	}
}

func TestValidateUpgradeHeadersComplete(t *testing.T) {
	h := map[string][]string{
		"Upgrade":           {"websocket"},
		"Connection":        {"Upgrade"},
		"Sec-Websocket-Key": {"abc123=="},
	}
	if err := ValidateUpgradeHeaders(h, "example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
