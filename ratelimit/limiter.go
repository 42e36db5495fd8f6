package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Decision is the outcome of one [Limiter.Allow] call.
type Decision struct {
	Allowed bool
	// Remaining is the quota left after this call.
	Remaining int
	// RetryAfter is how long until the oldest counted request leaves the window.
	// It is zero for admitted requests and for limit <= 0, where waiting never helps.
	RetryAfter time.Duration
}

// Err returns nil for admitted requests and ErrRateLimited otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrRateLimited
}

// Limiter is implemented by every sliding-window backend.
type Limiter interface {
	// Allow records a request for key and reports whether it fits limit per window.
	// Denied requests are not recorded.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Remaining reports the quota left for key without recording a request.
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
	// Reset forgets every request recorded for key.
	Reset(ctx context.Context, key string) error
}

// Policy names a quota so callers do not repeat max and window at every call site.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

var keyPartEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// Key builds "name:part1:part2". Backslashes and colons inside a part are escaped, so
// ("a:b") and ("a", "b") map to different keys and IPv6 addresses stay one part.
func (p Policy) Key(parts ...string) string {
	var b strings.Builder
	b.WriteString(p.Name)
	for _, part := range parts {
		b.WriteByte(':')
		b.WriteString(keyPartEscaper.Replace(part))
	}
	return b.String()
}

// Allow applies the policy to the key built from parts.
func (p Policy) Allow(ctx context.Context, l Limiter, parts ...string) (Decision, error) {
	return l.Allow(ctx, p.Key(parts...), p.Max, p.Window)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// degenerate handles limit <= 0 and window <= 0, which never touch stored state.
func degenerate(limit int, window time.Duration) (Decision, bool) {
	if limit <= 0 {
		return Decision{}, true
	}
	if window <= 0 {
		return Decision{Allowed: true, Remaining: limit - 1}, true
	}
	return Decision{}, false
}

func retryAfter(oldest time.Time, window time.Duration, now time.Time) time.Duration {
	d := oldest.Add(window).Sub(now)
	if d <= 0 {
		// The oldest entry still counts at exactly now-window.
		return time.Nanosecond
	}
	return d
}
