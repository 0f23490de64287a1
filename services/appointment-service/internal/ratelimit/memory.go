package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps a token-bucket limiter per (actor, endpoint) key.
// Suitable for single-instance deployments and local development; use
// RedisLimiter when running more than one instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	limit   int
	window  time.Duration
	idleTTL time.Duration
}

type memoryEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		entries: map[string]*memoryEntry{},
		limit:   limit,
		window:  window,
		idleTTL: 15 * time.Minute,
	}
}

func (ml *MemoryLimiter) Allow(ctx context.Context, actorID, endpoint string) (Decision, error) {
	lim := ml.limiterFor(key("rl", actorID, endpoint))

	res := lim.Reserve()
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: ml.window}, nil
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		if delay < time.Second {
			delay = time.Second
		}
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

func (ml *MemoryLimiter) limiterFor(k string) *rate.Limiter {
	now := time.Now()

	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ent, ok := ml.entries[k]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	// limit tokens spread over one window, bursting up to the full limit.
	lim := rate.NewLimiter(rate.Every(ml.window/time.Duration(ml.limit)), ml.limit)
	ent := &memoryEntry{lim: lim, lastSeen: now}
	ml.entries[k] = ent
	return lim
}

// StartJanitor drops idle keys periodically until ctx is cancelled.
func (ml *MemoryLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 2 * time.Minute
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				ml.cleanup()
			}
		}
	}()
}

func (ml *MemoryLimiter) cleanup() {
	cutoff := time.Now().Add(-ml.idleTTL)

	ml.mu.Lock()
	defer ml.mu.Unlock()

	for k, ent := range ml.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(ml.entries, k)
		}
	}
}
