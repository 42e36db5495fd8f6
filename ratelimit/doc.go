// Package ratelimit provides sliding-window request limiters keyed by arbitrary strings.
//
// # Window semantics
//
// Every admitted request is recorded with its exact timestamp. A request at time now is
// admitted when fewer than max timestamps fall in [now-window, now]. Timestamps older than
// the window are pruned on every call, so the quota recovers continuously rather than at
// fixed boundaries.
//
// # Backends
//
//   - [MemoryLimiter]: process-local map guarded by one mutex; [MemoryLimiter.Sweep] drops idle keys.
//   - [RedisLimiter]: one sorted set per key, updated inside WATCH/MULTI; idle keys expire natively.
//
// # What this package must NOT do
//
//   - Know about subjects, IPs or reset flows (callers build keys with [Policy.Key]).
//   - Count denied requests against the quota.
package ratelimit
