package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goReset/pin"
	"github.com/MrEthical07/goReset/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("not a schedule", nil)
	require.Error(t, err)

	_, err = New("", []Job{{Name: "x"}})
	require.Error(t, err)
}

func TestRunOnceSweepsStoresAndLimiters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := func() time.Time { return now }

	store := pin.NewMemoryStore(pin.WithClock(clock))
	limiter := ratelimit.NewMemoryLimiter(ratelimit.WithClock(clock))

	_, err := store.Store(ctx, "a@x.com", "123456", "forgot_password", time.Minute)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "forgot-password:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)

	results := map[string]int{}
	s, err := New(DefaultSchedule, []Job{
		{Name: "pins", Run: store.CleanupExpired},
		{Name: "limits", Run: limiter.Sweep},
	}, WithObserver(func(job string, removed int, err error) {
		results[job] = removed
	}))
	require.NoError(t, err)

	total, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	now = now.Add(2 * time.Minute)
	total, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, map[string]int{"pins": 1, "limits": 1}, results)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, limiter.Len())
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	var ran atomic.Int32

	s, err := New("", []Job{
		{Name: "broken", Run: func(context.Context) (int, error) { return 0, boom }},
		{Name: "ok", Run: func(context.Context) (int, error) { ran.Add(1); return 3, nil }},
	})
	require.NoError(t, err)

	total, err := s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, total)
	assert.Equal(t, int32(1), ran.Load())
}

func TestScheduledRun(t *testing.T) {
	var ran atomic.Int32
	s, err := New("@every 1s", []Job{
		{Name: "count", Run: func(context.Context) (int, error) { ran.Add(1); return 0, nil }},
	}, WithTimeout(time.Second))
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return ran.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}
