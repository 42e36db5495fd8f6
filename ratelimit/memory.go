package ratelimit

import (
	"context"
	"sync"
	"time"
)

type history struct {
	hits   []time.Time
	window time.Duration
}

// prune drops timestamps older than now-window. hits stay sorted because now never
// moves backwards for a single key under the lock.
func (h *history) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(h.hits) && h.hits[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.hits = append(h.hits[:0], h.hits[i:]...)
	}
	h.window = window
}

// MemoryLimiter is a process-local sliding-window limiter.
type MemoryLimiter struct {
	mu   sync.Mutex
	keys map[string]*history
	opts options
}

// NewMemoryLimiter creates an empty in-memory limiter.
func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	return &MemoryLimiter{
		keys: make(map[string]*history),
		opts: buildOptions(opts),
	}
}

// Allow implements [Limiter].
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if d, ok := degenerate(limit, window); ok {
		return d, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	h, ok := l.keys[key]
	if !ok {
		h = &history{}
		l.keys[key] = h
	}
	h.prune(now, window)

	if len(h.hits) >= limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter(h.hits[len(h.hits)-limit], window, now),
		}, nil
	}

	h.hits = append(h.hits, now)
	return Decision{Allowed: true, Remaining: limit - len(h.hits)}, nil
}

// Remaining implements [Limiter].
func (l *MemoryLimiter) Remaining(_ context.Context, key string, limit int, window time.Duration) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	if window <= 0 {
		return limit, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.keys[key]
	if !ok {
		return limit, nil
	}
	h.prune(l.opts.now(), window)
	if len(h.hits) == 0 {
		delete(l.keys, key)
		return limit, nil
	}
	if left := limit - len(h.hits); left > 0 {
		return left, nil
	}
	return 0, nil
}

// Reset implements [Limiter].
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
	return nil
}

// Sweep removes keys whose newest request is older than the window it was last checked with.
func (l *MemoryLimiter) Sweep(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.now()
	removed := 0
	for key, h := range l.keys {
		if len(h.hits) == 0 || h.hits[len(h.hits)-1].Before(now.Add(-h.window)) {
			delete(l.keys, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
