// Package middleware exposes HTTP adapters that feed request data into goReset.
//
// # Middleware
//
//   - [ClientIP] stores the peer address in the request context so the engine can
//     apply per-IP limits and stamp audit events.
//   - [RateLimit] throttles any route with a [ratelimit.Policy] and answers denials
//     with 429 and Retry-After.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into engine and limiter calls. Reset
// decisions stay in the engine.
//
// # What this package must NOT do
//
//   - Parse proxy headers. Mount chi's RealIP in front of ClientIP when the server
//     sits behind a trusted proxy.
//   - Access Redis directly (the Limiter owns I/O).
//   - Write reset-specific responses.
package middleware
