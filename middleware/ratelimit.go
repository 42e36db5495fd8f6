package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	goReset "github.com/MrEthical07/goReset"
	"github.com/MrEthical07/goReset/ratelimit"
)

// KeyFunc extracts the limiter key for a request. An empty key skips the limit.
type KeyFunc func(r *http.Request) string

// ByClientIP keys requests by the address stored by [ClientIP], falling back to
// [RemoteIP].
func ByClientIP(r *http.Request) string {
	if ip := goReset.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return RemoteIP(r)
}

// RateLimit admits at most policy.Max requests per key within policy.Window.
// Denied requests get 429 with Retry-After in whole seconds. A limiter failure
// answers 503 so a broken backend never disables throttling.
func RateLimit(limiter ratelimit.Limiter, policy ratelimit.Policy, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = ByClientIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || policy.Max <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := policy.Allow(r.Context(), limiter, key)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", RetryAfterSeconds(d.RetryAfter))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds formats d for a Retry-After header, rounding up to at least one second.
func RetryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
