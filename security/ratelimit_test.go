package security

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(1, 2, discardLogger())
	defer rl.Stop()

	if !rl.Allow("203.0.113.7") {
		t.Fatal("first request within burst must pass")
	}
	if !rl.Allow("203.0.113.7") {
		t.Fatal("second request within burst must pass")
	}
	if rl.Allow("203.0.113.7") {
		t.Error("request beyond burst must be rejected")
	}

	// Identifiers are limited independently.
	if !rl.Allow("198.51.100.9") {
		t.Error("a different identifier must have its own bucket")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, discardLogger())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}

	time.Sleep(10 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	if rl.Len() != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", rl.Len())
	}
}

func TestRateLimiterLRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 2, discardLogger())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("c")
	if rl.Len() != 2 {
		t.Errorf("Len() = %d, want the cap of 2", rl.Len())
	}
	// "a" was least recently used and must be gone; a fresh bucket lets the
	// request through again even after a burst was consumed elsewhere.
	if !rl.Allow("a") {
		t.Error("evicted identifier must get a fresh bucket")
	}
}
