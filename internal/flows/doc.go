// Package flows contains pure-function orchestrators for the password reset
// operations of the root Engine.
//
// Each flow function (RunRequestPasswordReset, RunVerifyResetPIN,
// RunCompletePasswordReset) accepts a typed dependency struct and has no side
// effects beyond those dependencies. [Service] bundles them behind the methods the
// Engine delegates to.
//
// # Architecture boundaries
//
// Flows coordinate the PIN store, rate limiter, account store, mailer, grant
// manager, audit dispatcher, and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goReset (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
