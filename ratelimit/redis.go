package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "rl"
	maxTxRetries       = 4
)

// RedisLimiter keeps one sorted set per key. Scores are request timestamps in microseconds
// and members are random ids so simultaneous requests do not collapse into one entry.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	opts   options
}

// NewRedisLimiter creates a Redis-backed limiter. An empty prefix defaults to "rl".
func NewRedisLimiter(client redis.UniversalClient, prefix string, opts ...Option) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{
		redis:  client,
		prefix: prefix,
		opts:   buildOptions(opts),
	}
}

func (l *RedisLimiter) key(key string) string {
	return l.prefix + ":" + key
}

func micros(t time.Time) string {
	return strconv.FormatInt(t.UnixMicro(), 10)
}

// Allow implements [Limiter]. Reads happen under WATCH and all writes go through MULTI,
// so two processes racing on one key cannot both take the last slot.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if d, ok := degenerate(limit, window); ok {
		return d, nil
	}

	k := l.key(key)

	for i := 0; i < maxTxRetries; i++ {
		var decision Decision

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			now := l.opts.now()
			cutoff := micros(now.Add(-window))

			live, err := tx.ZRangeByScoreWithScores(ctx, k, &redis.ZRangeBy{
				Min: cutoff,
				Max: "+inf",
			}).Result()
			if err != nil {
				return err
			}

			admit := len(live) < limit
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRemRangeByScore(ctx, k, "-inf", "("+cutoff)
				if admit {
					pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
					pipe.PExpire(ctx, k, window)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if admit {
				decision = Decision{Allowed: true, Remaining: limit - len(live) - 1}
				return nil
			}

			oldest := time.UnixMicro(int64(live[len(live)-limit].Score))
			decision = Decision{RetryAfter: retryAfter(oldest, window, now)}
			return nil
		}, k)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Decision{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return decision, nil
	}

	return Decision{}, fmt.Errorf("%w: allow contention", ErrUnavailable)
}

// Remaining implements [Limiter].
func (l *RedisLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	if window <= 0 {
		return limit, nil
	}

	count, err := l.redis.ZCount(ctx, l.key(key), micros(l.opts.now().Add(-window)), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if left := limit - int(count); left > 0 {
		return left, nil
	}
	return 0, nil
}

// Reset implements [Limiter].
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
