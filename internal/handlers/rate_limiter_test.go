package handlers

import (
	"testing"
	"time"
)

func TestKeyedRateLimiterRefillsPerKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(2, 2, func() time.Time { return now })

	if !limiter.Allow("t/a") || !limiter.Allow("t/a") {
		t.Fatalf("expected burst of two allowed")
	}
	if limiter.Allow("t/a") {
		t.Fatalf("expected third request rejected")
	}
	if !limiter.Allow("t/b") {
		t.Fatalf("expected other caller unaffected")
	}

	now = now.Add(30 * time.Second)
	if !limiter.Allow("t/a") {
		t.Fatalf("expected a token after refill")
	}
}

func TestKeyedRateLimiterDisabled(t *testing.T) {
	if limiter := newKeyedRateLimiter(0, 0, nil); limiter != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
}
