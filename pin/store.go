package pin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"time"
)

// DefaultMaxAttempts is the verification budget of a record unless overridden.
const DefaultMaxAttempts = 5

// Record is the observable metadata of a stored PIN. The code itself is never returned.
type Record struct {
	Subject     string
	Purpose     string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

// AttemptsLeft returns the remaining verification budget.
func (r Record) AttemptsLeft() int {
	left := r.MaxAttempts - r.Attempts
	if left < 0 {
		return 0
	}
	return left
}

// VerifyResult describes a successful verification.
type VerifyResult struct {
	Record Record
}

// Store is implemented by every PIN backend.
type Store interface {
	// Store creates or replaces the record for (subject, purpose).
	Store(ctx context.Context, subject, code, purpose string, ttl time.Duration) (Record, error)
	// Verify checks code against the live record and consumes it on success.
	Verify(ctx context.Context, subject, code, purpose string) (VerifyResult, error)
	// Peek returns record metadata without consuming an attempt.
	Peek(ctx context.Context, subject, purpose string) (Record, error)
	// CleanupExpired removes every expired record and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now         func() time.Time
	maxAttempts int
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMaxAttempts sets the per-record verification budget. Values <= 0 keep the default.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func codesEqual(stored [32]byte, provided string) bool {
	h := hashCode(provided)
	return subtle.ConstantTimeCompare(stored[:], h[:]) == 1
}

// expired treats the expiry instant itself as expired, so a zero TTL never verifies.
func expired(now, expiresAt time.Time) bool {
	return !now.Before(expiresAt)
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
