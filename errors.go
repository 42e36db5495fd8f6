package goReset

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goReset/pin"
)

var (
	// ErrEngineNotReady is returned when an Engine method is called on a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrResetDisabled is returned when the reset flow is switched off in Config.
	ErrResetDisabled = errors.New("password reset disabled")
	// ErrResetInvalid covers every rejected PIN: unknown, expired, exhausted or mismatched.
	ErrResetInvalid = errors.New("password reset challenge invalid")
	// ErrResetRateLimited is returned when a reset limiter denies the call.
	ErrResetRateLimited = errors.New("password reset rate limited")
	// ErrResetUnavailable wraps backend failures of the PIN store, limiter or account store.
	ErrResetUnavailable = errors.New("password reset backend unavailable")
	// ErrPasswordPolicy is returned when the new password violates length limits.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrGrantInvalid is returned for a reset grant that is malformed, expired or already used.
	ErrGrantInvalid = errors.New("reset grant invalid")
	// ErrAccountDisabled is returned when the account owning a grant was disabled meanwhile.
	ErrAccountDisabled = errors.New("account disabled")
)

// RateLimitError is a rate-limit denial carrying the time until the next slot opens.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s (%s, retry after %s)", ErrResetRateLimited.Error(), e.Scope, e.RetryAfter)
}

// Is makes errors.Is(err, ErrResetRateLimited) hold.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrResetRateLimited
}

// RetryAfter returns the wait reported by a RateLimitError in err's chain.
func RetryAfter(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// ResetAttemptsLeft returns how many guesses remain after a mismatched PIN.
func ResetAttemptsLeft(err error) (int, bool) {
	return pin.AttemptsLeft(err)
}

const (
	publicGenericMessage     = "The reset code is invalid or has expired."
	publicRateLimitedMessage = "Too many requests. Please try again later."
	publicUnavailableMessage = "Password reset is temporarily unavailable."
	publicPolicyMessage      = "The new password does not meet the password requirements."
)

// PublicMessage maps err to text safe to show an end user. Every challenge failure collapses
// to the same wording so responses do not reveal whether an account or PIN exists.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResetRateLimited):
		return publicRateLimitedMessage
	case errors.Is(err, ErrPasswordPolicy):
		return publicPolicyMessage
	case errors.Is(err, ErrResetUnavailable), errors.Is(err, ErrResetDisabled), errors.Is(err, ErrEngineNotReady):
		return publicUnavailableMessage
	default:
		return publicGenericMessage
	}
}
