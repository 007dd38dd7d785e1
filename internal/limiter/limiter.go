package limiter

import (
	"context"
	"sync"
	"time"
)

// Limiter gates how often a key (client IP, user id) may perform an action.
// The interface exists so a multi-instance deployment can swap the in-memory
// table for a shared store without touching callers.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	count int
	until time.Time
}

// Memory is a single-process fixed-window limiter.
type Memory struct {
	limit int
	per   time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemory creates an in-memory limiter allowing limit events per window.
func NewMemory(limit int, per time.Duration) *Memory {
	return &Memory{limit: limit, per: per, buckets: make(map[string]*bucket)}
}

// Allow reports whether the key is under its window budget.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	b, ok := m.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(m.per)}
		m.buckets[key] = b
	}
	if b.count >= m.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

var _ Limiter = (*Memory)(nil)
