// Command goreset-loadtest hammers the rate limiter and PIN store concurrently
// and reports throughput, latency percentiles and invariant violations.
//
//	go run ./cmd/goreset-loadtest -backend=redis -subjects=10000 -concurrency=256
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goReset/pin"
	"github.com/MrEthical07/goReset/ratelimit"
)

const purpose = "forgot_password"

func main() {
	var (
		backend     = flag.String("backend", "memory", "memory or redis")
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase")
		limit       = flag.Int("limit", 5, "requests allowed per key per window")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 || *limit <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, ops, and limit must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	var (
		store   pin.Store
		limiter ratelimit.Limiter
		cleanup = func() {}
	)
	switch *backend {
	case "memory":
		store = pin.NewMemoryStore(pin.WithMaxAttempts(1000))
		limiter = ratelimit.NewMemoryLimiter()
		fmt.Println("using in-memory backends")
	case "redis":
		client, closeFn, err := openRedis(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		cleanup = closeFn
		store = pin.NewRedisStore(client, "lt:pin", pin.WithMaxAttempts(1000))
		limiter = ratelimit.NewRedisLimiter(client, "lt:rl")
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q\n", *backend)
		os.Exit(2)
	}
	defer cleanup()

	policy := ratelimit.Policy{Name: "loadtest", Max: *limit, Window: time.Hour}
	limitStats, overAdmitted := runLimiterPhase(ctx, limiter, policy, *subjects, *ops, *concurrency)

	codes := make([]string, *subjects)
	fmt.Printf("seeding %d PINs...\n", *subjects)
	startSeed := time.Now()
	for i := range codes {
		code, err := pin.Generate(pin.Length6)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate failed: %v\n", err)
			os.Exit(1)
		}
		if _, err := store.Store(ctx, subjectFor(i), code, purpose, time.Hour); err != nil {
			fmt.Fprintf(os.Stderr, "store failed: %v\n", err)
			os.Exit(1)
		}
		codes[i] = code
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats, consumed := runVerifyPhase(ctx, store, codes, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("allow", limitStats)
	printStats("verify", verifyStats)

	fmt.Printf("verify: %d of %d PINs consumed\n", consumed, len(codes))

	failed := false
	if overAdmitted > 0 {
		fmt.Printf("FAIL: %d keys admitted more than %d requests\n", overAdmitted, *limit)
		failed = true
	}
	if verifyStats.failures > 0 {
		fmt.Printf("FAIL: %d verifies were double-consumed or errored\n", verifyStats.failures)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return client, func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return client, func() { _ = client.Close() }, nil
}

func subjectFor(i int) string {
	return fmt.Sprintf("user-%d@example.com", i)
}

// runLimiterPhase spreads ops over keys and reports how many keys were admitted
// beyond the policy maximum. Any such key is a correctness failure.
func runLimiterPhase(ctx context.Context, limiter ratelimit.Limiter, policy ratelimit.Policy, keys, ops, concurrency int) (phaseStats, int) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		admitted  = make([]int64, keys)
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(keys)
				t0 := time.Now()
				d, err := policy.Allow(ctx, limiter, subjectFor(idx))
				elapsed := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else if d.Allowed {
					atomic.AddInt64(&admitted[idx], 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	over := 0
	for _, n := range admitted {
		if n > int64(policy.Max) {
			over++
		}
	}
	return computeStats(total, latencies, failures), over
}

// runVerifyPhase submits the correct code for random subjects. Each PIN may
// succeed once; later submissions must fail with pin.ErrNotFound.
func runVerifyPhase(ctx context.Context, store pin.Store, codes []string, ops, concurrency int) (phaseStats, int64) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		consumed  int64
		perPIN    = make([]int32, len(codes))
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(codes))
				t0 := time.Now()
				_, err := store.Verify(ctx, subjectFor(idx), codes[idx], purpose)
				elapsed := time.Since(t0)
				switch {
				case err == nil:
					atomic.AddInt64(&consumed, 1)
					if atomic.AddInt32(&perPIN[idx], 1) > 1 {
						atomic.AddInt64(&failures, 1)
					}
				case errors.Is(err, pin.ErrNotFound):
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), consumed
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
