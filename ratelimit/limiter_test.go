package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// backends runs the same behavioural checks against every implementation.
func backends(t *testing.T, clock *fakeClock) map[string]Limiter {
	t.Helper()
	_, rdb := newTestRedis(t)
	return map[string]Limiter{
		"memory": NewMemoryLimiter(WithClock(clock.Now)),
		"redis":  NewRedisLimiter(rdb, "", WithClock(clock.Now)),
	}
}

func TestLimiterSlidingWindow(t *testing.T) {
	for name, newLimiter := range map[string]func(*fakeClock) Limiter{
		"memory": func(c *fakeClock) Limiter { return NewMemoryLimiter(WithClock(c.Now)) },
		"redis": func(c *fakeClock) Limiter {
			_, rdb := newTestRedis(t)
			return NewRedisLimiter(rdb, "", WithClock(c.Now))
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			l := newLimiter(clock)

			for i := 0; i < 3; i++ {
				d, err := l.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
				require.NoError(t, err)
				require.True(t, d.Allowed, "call %d", i+1)
				assert.Equal(t, 2-i, d.Remaining)
				clock.Advance(time.Second)
			}

			d, err := l.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.Equal(t, 0, d.Remaining)
			assert.Equal(t, 57*time.Second, d.RetryAfter)
			assert.ErrorIs(t, d.Err(), ErrRateLimited)

			left, err := l.Remaining(ctx, "ip:1.2.3.4", 3, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, 0, left)

			clock.Advance(61 * time.Second)
			d, err = l.Allow(ctx, "ip:1.2.3.4", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.NoError(t, d.Err())
		})
	}
}

func TestLimiterWindowSlidesPerEntry(t *testing.T) {
	clock := newFakeClock()
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "slide-" + name

			// t=0 and t=30s fill a 2/60s quota.
			d, err := l.Allow(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			clock.Advance(30 * time.Second)
			d, err = l.Allow(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			// At t=61s only the first entry has left the window.
			clock.Advance(31 * time.Second)
			d, err = l.Allow(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)

			d, err = l.Allow(ctx, key, 2, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
		})
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			d, err := l.Allow(ctx, name+":a", 1, time.Minute)
			require.NoError(t, err)
			require.True(t, d.Allowed)
			d, err = l.Allow(ctx, name+":a", 1, time.Minute)
			require.NoError(t, err)
			require.False(t, d.Allowed)

			d, err = l.Allow(ctx, name+":b", 1, time.Minute)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestLimiterDegenerateInputs(t *testing.T) {
	clock := newFakeClock()
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			d, err := l.Allow(ctx, "zero", 0, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			d, err = l.Allow(ctx, "neg", -1, time.Minute)
			require.NoError(t, err)
			assert.False(t, d.Allowed)

			for i := 0; i < 10; i++ {
				d, err = l.Allow(ctx, "nowindow", 1, 0)
				require.NoError(t, err)
				assert.True(t, d.Allowed)
			}
			left, err := l.Remaining(ctx, "nowindow", 1, 0)
			require.NoError(t, err)
			assert.Equal(t, 1, left)
		})
	}
}

func TestLimiterReset(t *testing.T) {
	clock := newFakeClock()
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			d, err := l.Allow(ctx, "reset", 1, time.Hour)
			require.NoError(t, err)
			require.True(t, d.Allowed)

			require.NoError(t, l.Reset(ctx, "reset"))

			left, err := l.Remaining(ctx, "reset", 1, time.Hour)
			require.NoError(t, err)
			assert.Equal(t, 1, left)
			d, err = l.Allow(ctx, "reset", 1, time.Hour)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		})
	}
}

func TestLimiterConcurrentAllowNeverExceedsLimit(t *testing.T) {
	clock := newFakeClock()
	for name, l := range backends(t, clock) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg      sync.WaitGroup
				allowed atomic.Int32
			)
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					d, err := l.Allow(ctx, "burst", 5, time.Minute)
					if err == nil && d.Allowed {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.LessOrEqual(t, allowed.Load(), int32(5))
			if name == "memory" {
				assert.Equal(t, int32(5), allowed.Load())
			}
		})
	}
}

func TestMemoryLimiterSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	l := NewMemoryLimiter(WithClock(clock.Now))

	_, err := l.Allow(ctx, "short", 5, time.Minute)
	require.NoError(t, err)
	_, err = l.Allow(ctx, "long", 5, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	removed, err := l.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
}

func TestRedisLimiterSetsKeyTTL(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "rp")

	_, err := l.Allow(ctx, "ip:9.9.9.9", 3, 90*time.Second)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, mr.TTL("rp:ip:9.9.9.9"))

	mr.FastForward(91 * time.Second)
	assert.False(t, mr.Exists("rp:ip:9.9.9.9"))
}

func TestRedisLimiterUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisLimiter(rdb, "")
	mr.Close()

	_, err := l.Allow(context.Background(), "k", 1, time.Minute)
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestPolicyKey(t *testing.T) {
	p := Policy{Name: "forgot-password", Max: 5, Window: time.Hour}
	assert.Equal(t, "forgot-password:ip:1.2.3.4", p.Key("ip", "1.2.3.4"))
	assert.Equal(t, "forgot-password", p.Key())
	assert.NotEqual(t, p.Key("a:b"), p.Key("a", "b"))
	assert.NotEqual(t, p.Key(`a\`, "b"), p.Key(`a\:b`))
	assert.Equal(t, `forgot-password:2001\:db8\:\:1`, p.Key("2001:db8::1"))

	l := NewMemoryLimiter()
	d, err := p.Allow(context.Background(), l, "subject", "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, 4, d.Remaining)
}
