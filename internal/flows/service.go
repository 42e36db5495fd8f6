package flows

import (
	"context"
	"fmt"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.PasswordReset.VerifyPIN != nil
}

func (s Service) RequestPasswordReset(ctx context.Context, email string) error {
	return RunRequestPasswordReset(ctx, email, s.deps.PasswordReset)
}

func (s Service) VerifyResetPIN(ctx context.Context, email, code string) (ResetGrant, error) {
	return RunVerifyResetPIN(ctx, email, code, s.deps.PasswordReset)
}

func (s Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	return RunCompletePasswordReset(ctx, token, newPassword, s.deps.PasswordReset)
}

// ConfirmPasswordReset runs verify and complete back to back. The password policy is
// checked before the PIN is touched so a rejected password leaves it usable.
func (s Service) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	deps := s.deps.PasswordReset
	normalizePasswordResetDeps(&deps)

	if err := deps.CheckPasswordPolicy(newPassword); err != nil {
		return fmt.Errorf("%w: %w", deps.Errors.PasswordPolicy, err)
	}

	grant, err := RunVerifyResetPIN(ctx, email, code, deps)
	if err != nil {
		return err
	}
	return RunCompletePasswordReset(ctx, grant.Token, newPassword, deps)
}
