package ratelimit

import "errors"

var (
	// ErrRateLimited is returned by [Decision.Err] for denied requests.
	ErrRateLimited = errors.New("ratelimit: rate limited")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("ratelimit: backend unavailable")
)
