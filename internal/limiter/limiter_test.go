package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAllowWithinWindow(t *testing.T) {
	m := NewMemory(3, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := m.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be within budget", i)
		}
	}
	allowed, err := m.Allow(ctx, "10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatalf("fourth request should exceed the budget")
	}
}

func TestMemoryKeysAreIndependent(t *testing.T) {
	m := NewMemory(1, time.Hour)
	ctx := context.Background()

	if allowed, _ := m.Allow(ctx, "10.0.0.1"); !allowed {
		t.Fatalf("first key's first request denied")
	}
	if allowed, _ := m.Allow(ctx, "10.0.0.2"); !allowed {
		t.Fatalf("second key must not share the first key's budget")
	}
	if allowed, _ := m.Allow(ctx, "10.0.0.1"); allowed {
		t.Fatalf("first key's second request should be denied")
	}
}

func TestMemoryWindowResets(t *testing.T) {
	m := NewMemory(1, 10*time.Millisecond)
	ctx := context.Background()

	if allowed, _ := m.Allow(ctx, "10.0.0.1"); !allowed {
		t.Fatalf("first request denied")
	}
	if allowed, _ := m.Allow(ctx, "10.0.0.1"); allowed {
		t.Fatalf("second request in window should be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if allowed, _ := m.Allow(ctx, "10.0.0.1"); !allowed {
		t.Fatalf("request after window expiry should be allowed")
	}
}
