// Package httpapi mounts the password reset flow on a chi router.
//
// # Routes
//
//	POST /password-reset/request   {"email"}
//	POST /password-reset/verify    {"email","code"} -> {"reset_token","expires_at"}
//	POST /password-reset/complete  {"reset_token","new_password"}
//	POST /password-reset/confirm   {"email","code","new_password"}
//	GET  /metrics                  when Options.Metrics is set
//	GET  /healthz
//
// Failures collapse to a few public answers: 429 with Retry-After for rate
// limits, 503 when a backend is down, 422 for a rejected password, and one
// generic 400 for everything else. Which account exists, and why a code or
// grant failed, is never visible on the wire.
package httpapi
