// Package goReset implements an email-based password reset: a short-lived numeric PIN is
// mailed to the account holder, verified with a bounded number of attempts, and exchanged
// for a single-use grant that authorises setting a new password.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
//
// # Flow
//
//	RequestPasswordReset(email)         -> PIN stored, mailed asynchronously
//	VerifyResetPIN(email, code)         -> ResetGrant (PIN consumed)
//	CompletePasswordReset(grant, pass)  -> password replaced (grant consumed)
//	ConfirmPasswordReset(email, code, pass) does the last two in one call.
//
// Requests are throttled by sliding-window limits per client IP and per email. Unknown
// emails receive the same result as known ones.
//
// # Architecture boundaries
//
// goReset is the public surface. PIN storage lives in pin, rate limiting in ratelimit,
// grants in grant; flow orchestration, audit dispatch and the sweep scheduler live under
// internal/.
//
// # What this package must NOT do
//
//   - Log, audit or return PIN codes anywhere except to the configured mailer.
//   - Block a request on mail delivery.
//   - Tell callers whether an email belongs to an account.
package goReset
