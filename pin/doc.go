// Package pin issues and verifies short-lived numeric PINs used to prove control of an
// email address (or any other subject) before a sensitive operation such as a password reset.
//
// # Records
//
// A record is keyed by (subject, purpose). Storing a new PIN for the same key replaces the
// previous one, so an older code can never verify once a newer one was issued. Each record
// carries an expiry and an attempt counter bounded by MaxAttempts.
//
// # Verify contract
//
//   - no record            → [ErrNotFound]
//   - expired              → record deleted, [ErrExpired]
//   - attempts exhausted   → record deleted, [ErrAttemptsExceeded]
//   - wrong code           → attempts incremented, [*InvalidCodeError] (matches [ErrInvalidCode])
//   - correct code         → record deleted (single use), success
//
// # Backends
//
//   - [MemoryStore]: process-local map guarded by one mutex.
//   - [RedisStore]: versioned binary records, WATCH/MULTI optimistic transactions.
//
// Both backends keep only a SHA-256 digest of the code and compare digests in constant time.
//
// # What this package must NOT do
//
//   - Deliver PINs or decide who may request one (callers own rate limiting and delivery).
//   - Log or expose plaintext codes.
package pin
