package goReset

import "time"

// ResetGrant is returned by a successful PIN verification and redeemed once by
// CompletePasswordReset.
type ResetGrant struct {
	Token     string    `json:"reset_token"`
	ExpiresAt time.Time `json:"expires_at"`
}
