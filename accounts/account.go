// Package accounts looks up the accounts a password reset targets and stores their new
// password hashes.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("accounts: not found")
	// ErrUnavailable wraps storage failures.
	ErrUnavailable = errors.New("accounts: store unavailable")
)

// Account is the subset of user data the reset flow needs.
type Account struct {
	ID                string
	Email             string
	PasswordHash      string
	Disabled          bool
	PasswordChangedAt time.Time
}

// Store is implemented by every account backend.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// NormalizeEmail trims and lowercases an address. Subjects are keyed by this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
