package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AdmitsUpToLimit(t *testing.T) {
	ml := NewMemoryLimiter(10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		dec, err := ml.Allow(ctx, "user-1", "appointments:check-in")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}

	dec, err := ml.Allow(ctx, "user-1", "appointments:check-in")
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if dec.Allowed {
		t.Fatal("11th request within the window should be denied")
	}
	if dec.RetryAfter <= 0 {
		t.Fatalf("denied decision must carry a retry-after, got %v", dec.RetryAfter)
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	ml := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	if dec, _ := ml.Allow(ctx, "user-1", "appointments:complete"); !dec.Allowed {
		t.Fatal("first request for user-1 should pass")
	}
	if dec, _ := ml.Allow(ctx, "user-1", "appointments:complete"); dec.Allowed {
		t.Fatal("second request for user-1 should be denied")
	}

	// Different actor, same endpoint.
	if dec, _ := ml.Allow(ctx, "user-2", "appointments:complete"); !dec.Allowed {
		t.Fatal("user-2 must not be affected by user-1's window")
	}
	// Same actor, different endpoint.
	if dec, _ := ml.Allow(ctx, "user-1", "appointments:no-show"); !dec.Allowed {
		t.Fatal("a different endpoint must have its own window")
	}
}

func TestMemoryLimiter_CleanupDropsIdleKeys(t *testing.T) {
	ml := NewMemoryLimiter(5, time.Minute)
	ml.idleTTL = 0

	_, _ = ml.Allow(context.Background(), "user-1", "appointments:check-in")
	time.Sleep(time.Millisecond)
	ml.cleanup()

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if len(ml.entries) != 0 {
		t.Fatalf("expected idle entries dropped, got %d", len(ml.entries))
	}
}
