package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_RequestsPerMinuteBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 2
	cfg.BurstMultiplier = 1.5
	cfg.MaxConcurrentRequests = 1000
	limiter := NewLimiter(cfg)

	// burst ceiling = floor(2*1.5) = 3
	for i := 0; i < 3; i++ {
		d := limiter.Check("user1", 0)
		if !d.Admit {
			t.Fatalf("request %d should be admitted under burst ceiling, got reject %q", i, d.Reject)
		}
		limiter.Record("user1", 0)
	}

	d := limiter.Check("user1", 0)
	if d.Admit {
		t.Error("4th request should exceed the burst ceiling")
	}
	if d.Reject != RejectRequestMinute {
		t.Errorf("reject kind = %q, want %q", d.Reject, RejectRequestMinute)
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Errorf("retry after = %v, want in (0, 60s]", d.RetryAfter)
	}
}

func TestLimiter_PerIdentityIsolated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 1
	cfg.BurstMultiplier = 1
	limiter := NewLimiter(cfg)

	limiter.Check("user1", 0)
	limiter.Record("user1", 0)

	if d := limiter.Check("user1", 0); d.Admit {
		t.Error("user1 should be exhausted")
	}
	if d := limiter.Check("user2", 0); !d.Admit {
		t.Error("user2 should have its own window")
	}
}

func TestLimiter_GlobalSharedAcrossIdentities(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PerIdentity = false
	cfg.RequestsPerMinute = 1
	cfg.BurstMultiplier = 1
	limiter := NewLimiter(cfg)

	limiter.Check("user1", 0)
	limiter.Record("user1", 0)

	if d := limiter.Check("user2", 0); d.Admit {
		t.Error("global limiter should reject user2 after user1 exhausted the shared window")
	}
}

func TestLimiter_TokenLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokensPerMinute = 1000
	cfg.BurstMultiplier = 1.5
	limiter := NewLimiter(cfg)

	if d := limiter.Check("user1", 1400); !d.Admit {
		t.Errorf("1400 tokens should fit under burst ceiling of 1500, got reject %q", d.Reject)
	}
	limiter.Record("user1", 1400)

	d := limiter.Check("user1", 200)
	if d.Admit {
		t.Error("additional 200 tokens should exceed the burst ceiling")
	}
	if d.Reject != RejectTokensMinute {
		t.Errorf("reject kind = %q, want %q", d.Reject, RejectTokensMinute)
	}
}

func TestLimiter_ConcurrentSlotGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentRequests = 2
	limiter := NewLimiter(cfg)

	limiter.AcquireSlot("user1")
	limiter.AcquireSlot("user1")

	d := limiter.Check("user1", 0)
	if d.Admit {
		t.Error("third concurrent slot should be rejected")
	}
	if d.Reject != RejectConcurrent {
		t.Errorf("reject kind = %q, want %q", d.Reject, RejectConcurrent)
	}

	limiter.ReleaseSlot("user1")
	if d := limiter.Check("user1", 0); !d.Admit {
		t.Error("releasing a slot should admit the next request")
	}
}

func TestLimiter_ReleaseSlotFloorsAtZero(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	limiter.ReleaseSlot("user1")
	limiter.ReleaseSlot("user1")

	usage := limiter.Usage("user1")
	if usage.ConcurrentUsed != 0 {
		t.Errorf("concurrent used = %d, want 0", usage.ConcurrentUsed)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.RequestsPerMinute = 1
	cfg.BurstMultiplier = 1
	limiter := NewLimiter(cfg)

	for i := 0; i < 100; i++ {
		if d := limiter.Check("user1", 1000000); !d.Admit {
			t.Error("disabled limiter should always admit")
		}
	}
}

func TestLimiter_Reset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestsPerMinute = 1
	cfg.BurstMultiplier = 1
	limiter := NewLimiter(cfg)

	limiter.Check("user1", 0)
	limiter.Record("user1", 0)
	if d := limiter.Check("user1", 0); d.Admit {
		t.Fatal("should be rate limited before reset")
	}

	limiter.Reset("user1")

	if d := limiter.Check("user1", 0); !d.Admit {
		t.Error("should be admitted again after reset")
	}
}

func TestLimiter_Usage(t *testing.T) {
	cfg := DefaultConfig()
	limiter := NewLimiter(cfg)

	limiter.Check("user1", 50)
	limiter.Record("user1", 50)

	usage := limiter.Usage("user1")
	if usage.RequestsMinuteUsed != 1 {
		t.Errorf("requests minute used = %d, want 1", usage.RequestsMinuteUsed)
	}
	if usage.TokensMinuteUsed != 50 {
		t.Errorf("tokens minute used = %d, want 50", usage.TokensMinuteUsed)
	}
	if usage.RequestsMinuteMax != cfg.RequestsPerMinute {
		t.Errorf("requests minute max = %d, want %d", usage.RequestsMinuteMax, cfg.RequestsPerMinute)
	}
}

func TestLimiter_WindowResetsAfterExpiry(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	limiter.mu.Lock()
	w := limiter.minuteWindowLocked("user1")
	w.count = 1000
	w.windowStart = time.Now().Add(-2 * time.Minute)
	limiter.mu.Unlock()

	d := limiter.Check("user1", 0)
	if !d.Admit {
		t.Error("a request against a stale window should be admitted once the window resets")
	}
}

func TestLimiter_CleanupEvictsOldWindows(t *testing.T) {
	limiter := NewLimiter(DefaultConfig())
	limiter.Check("stale-user", 0)

	limiter.mu.Lock()
	limiter.minuteWindows["stale-user"].windowStart = time.Now().Add(-3 * time.Minute)
	limiter.mu.Unlock()

	limiter.Check("another-user", 0)

	limiter.mu.Lock()
	_, stillPresent := limiter.minuteWindows["stale-user"]
	limiter.mu.Unlock()

	if stillPresent {
		t.Error("window older than 2x its length should have been garbage collected")
	}
}
