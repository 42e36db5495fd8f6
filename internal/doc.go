// Package internal holds helpers that are private to goReset.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for the reset operations
//   - sweeper: cron-scheduled removal of expired PINs and idle limiter keys
//
// # What this package must NOT do
//
//   - Export types that appear in the public goReset API.
//   - Be imported by any package outside the goReset module.
package internal
