package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goReset/pin"
)

type ResetAccount struct {
	ID       string
	Email    string
	Disabled bool
}

type ResetGrant struct {
	Token     string
	ID        string
	Subject   string
	ExpiresAt time.Time
}

type PasswordResetMetrics struct {
	Request          int
	RequestUnknown   int
	PINIssued        int
	VerifySuccess    int
	VerifyInvalid    int
	VerifyExpired    int
	VerifyNotFound   int
	AttemptsExceeded int
	GrantIssued      int
	GrantConsumed    int
	GrantInvalid     int
	ResetCompleted   int
	ResetFailure     int
	VerifyLatency    int
}

type PasswordResetEvents struct {
	Request  string
	Verify   string
	Complete string
}

type PasswordResetErrors struct {
	EngineNotReady  error
	Disabled        error
	Invalid         error
	RateLimited     error
	Unavailable     error
	PasswordPolicy  error
	GrantInvalid    error
	AccountDisabled error
}

type PasswordResetDeps struct {
	Enabled      bool
	PINLength    int
	Purpose      string
	PINTTL       time.Duration
	GrantPurpose string
	GrantTTL     time.Duration

	ClientIPFromContext func(context.Context) string

	// Limit checks return nil, an error matching Errors.RateLimited, or a backend failure.
	CheckRequestLimits func(ctx context.Context, subject, ip string) error
	CheckVerifyLimits  func(ctx context.Context, subject, ip string) error

	FindAccount        func(ctx context.Context, email string) (ResetAccount, error)
	IsAccountNotFound  func(error) bool
	UpdatePasswordHash func(ctx context.Context, accountID, hash string) error

	GeneratePIN func(length int) (string, error)
	StorePIN    func(ctx context.Context, subject, code, purpose string, ttl time.Duration) error
	VerifyPIN   func(ctx context.Context, subject, code, purpose string) error

	// DeliverPIN must not block on the mail transport.
	DeliverPIN func(ctx context.Context, email, code string, ttl time.Duration)
	// SleepEnumerationDelay blocks until a random delay measured from since has elapsed.
	// Known and unknown accounts both wait on it.
	SleepEnumerationDelay func(ctx context.Context, since time.Time) error

	IssueGrant          func(subject string) (ResetGrant, error)
	ParseGrant          func(token string) (ResetGrant, error)
	CheckPasswordPolicy func(string) error
	HashPassword        func(string) (string, error)

	MetricInc      func(int)
	MetricObserve  func(int, time.Duration)
	EmitAudit      func(ctx context.Context, eventType string, success bool, subject string, err error, metadata func() map[string]string)
	EmitRateLimit  func(ctx context.Context, scope string, metadata func() map[string]string)
	LogUnavailable func(ctx context.Context, op string, err error)

	Metrics PasswordResetMetrics
	Events  PasswordResetEvents
	Errors  PasswordResetErrors
}

// NormalizeSubject trims and lowercases an email address.
func NormalizeSubject(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if !deps.Enabled {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", deps.Errors.Disabled, nil)
		return deps.Errors.Disabled
	}
	if deps.CheckRequestLimits == nil || deps.FindAccount == nil || deps.GeneratePIN == nil || deps.StorePIN == nil || deps.DeliverPIN == nil {
		return deps.Errors.EngineNotReady
	}

	subject := NormalizeSubject(email)
	if subject == "" {
		deps.EmitAudit(ctx, deps.Events.Request, false, "", deps.Errors.Invalid, func() map[string]string {
			return map[string]string{
				"reason": "empty_email",
			}
		})
		return deps.Errors.Invalid
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckRequestLimits(ctx, subject, ip); err != nil {
		return rejectByLimiter(ctx, deps, deps.Events.Request, "password_reset_request", subject, err)
	}

	started := time.Now()
	account, err := deps.FindAccount(ctx, subject)
	if err != nil && !deps.IsAccountNotFound(err) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		mapped := unavailable(ctx, deps, "find_account", err)
		deps.EmitAudit(ctx, deps.Events.Request, false, subject, mapped, nil)
		return mapped
	}
	if err != nil || account.Disabled {
		// Same outcome as a real request so callers cannot probe which emails exist.
		if sleepErr := deps.SleepEnumerationDelay(ctx, started); sleepErr != nil {
			return sleepErr
		}
		deps.MetricInc(deps.Metrics.Request)
		deps.MetricInc(deps.Metrics.RequestUnknown)
		deps.EmitAudit(ctx, deps.Events.Request, true, subject, nil, func() map[string]string {
			return map[string]string{
				"enumeration_safe": "true",
			}
		})
		return nil
	}

	code, err := deps.GeneratePIN(deps.PINLength)
	if err != nil {
		mapped := unavailable(ctx, deps, "generate_pin", err)
		deps.EmitAudit(ctx, deps.Events.Request, false, subject, mapped, nil)
		return mapped
	}

	if err := deps.StorePIN(ctx, subject, code, deps.Purpose, deps.PINTTL); err != nil {
		mapped := unavailable(ctx, deps, "store_pin", err)
		deps.EmitAudit(ctx, deps.Events.Request, false, subject, mapped, nil)
		return mapped
	}

	deps.DeliverPIN(ctx, subject, code, deps.PINTTL)
	if err := deps.SleepEnumerationDelay(ctx, started); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.Request)
	deps.MetricInc(deps.Metrics.PINIssued)
	deps.EmitAudit(ctx, deps.Events.Request, true, subject, nil, func() map[string]string {
		return map[string]string{
			"purpose": deps.Purpose,
		}
	})
	return nil
}

func RunVerifyResetPIN(ctx context.Context, email, code string, deps PasswordResetDeps) (ResetGrant, error) {
	normalizePasswordResetDeps(&deps)

	if !deps.Enabled {
		deps.EmitAudit(ctx, deps.Events.Verify, false, "", deps.Errors.Disabled, nil)
		return ResetGrant{}, deps.Errors.Disabled
	}
	if deps.CheckVerifyLimits == nil || deps.VerifyPIN == nil || deps.IssueGrant == nil || deps.StorePIN == nil {
		return ResetGrant{}, deps.Errors.EngineNotReady
	}

	subject := NormalizeSubject(email)
	code = strings.TrimSpace(code)
	if subject == "" || code == "" {
		deps.MetricInc(deps.Metrics.VerifyInvalid)
		deps.EmitAudit(ctx, deps.Events.Verify, false, subject, deps.Errors.Invalid, func() map[string]string {
			return map[string]string{
				"reason": "empty_input",
			}
		})
		return ResetGrant{}, deps.Errors.Invalid
	}

	ip := deps.ClientIPFromContext(ctx)
	if err := deps.CheckVerifyLimits(ctx, subject, ip); err != nil {
		return ResetGrant{}, rejectByLimiter(ctx, deps, deps.Events.Verify, "password_reset_verify", subject, err)
	}

	// Malformed codes never reach the store and do not spend an attempt.
	if len(code) != deps.PINLength || !pin.IsNumeric(code) {
		deps.MetricInc(deps.Metrics.VerifyInvalid)
		deps.EmitAudit(ctx, deps.Events.Verify, false, subject, deps.Errors.Invalid, func() map[string]string {
			return map[string]string{
				"reason": "malformed_code",
			}
		})
		return ResetGrant{}, deps.Errors.Invalid
	}

	start := time.Now()
	err := deps.VerifyPIN(ctx, subject, code, deps.Purpose)
	deps.MetricObserve(deps.Metrics.VerifyLatency, time.Since(start))
	if err != nil {
		mapped := mapPINError(ctx, deps, err)
		deps.EmitAudit(ctx, deps.Events.Verify, false, subject, mapped, func() map[string]string {
			meta := map[string]string{}
			if left, ok := pin.AttemptsLeft(err); ok {
				meta["attempts_left"] = fmt.Sprint(left)
			}
			return meta
		})
		return ResetGrant{}, mapped
	}

	grant, err := deps.IssueGrant(subject)
	if err != nil {
		mapped := unavailable(ctx, deps, "issue_grant", err)
		deps.EmitAudit(ctx, deps.Events.Verify, false, subject, mapped, nil)
		return ResetGrant{}, mapped
	}

	// The grant id is kept as a one-shot code so a grant redeems at most once and a newer
	// grant replaces an older one.
	if err := deps.StorePIN(ctx, subject, grant.ID, deps.GrantPurpose, deps.GrantTTL); err != nil {
		mapped := unavailable(ctx, deps, "store_grant", err)
		deps.EmitAudit(ctx, deps.Events.Verify, false, subject, mapped, nil)
		return ResetGrant{}, mapped
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.MetricInc(deps.Metrics.GrantIssued)
	deps.EmitAudit(ctx, deps.Events.Verify, true, subject, nil, nil)

	grant.Subject = subject
	return grant, nil
}

func RunCompletePasswordReset(ctx context.Context, token, newPassword string, deps PasswordResetDeps) error {
	normalizePasswordResetDeps(&deps)

	if !deps.Enabled {
		deps.EmitAudit(ctx, deps.Events.Complete, false, "", deps.Errors.Disabled, nil)
		return deps.Errors.Disabled
	}
	if deps.ParseGrant == nil || deps.VerifyPIN == nil || deps.FindAccount == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return deps.Errors.EngineNotReady
	}

	fail := func(subject string, err error, reason string) error {
		deps.MetricInc(deps.Metrics.ResetFailure)
		deps.EmitAudit(ctx, deps.Events.Complete, false, subject, err, func() map[string]string {
			if reason == "" {
				return nil
			}
			return map[string]string{
				"reason": reason,
			}
		})
		return err
	}

	grant, err := deps.ParseGrant(strings.TrimSpace(token))
	if err != nil {
		deps.MetricInc(deps.Metrics.GrantInvalid)
		return fail("", fmt.Errorf("%w: %w", deps.Errors.GrantInvalid, err), "parse")
	}
	subject := grant.Subject

	if err := deps.CheckPasswordPolicy(newPassword); err != nil {
		return fail(subject, fmt.Errorf("%w: %w", deps.Errors.PasswordPolicy, err), "")
	}

	account, err := deps.FindAccount(ctx, subject)
	if err != nil {
		if deps.IsAccountNotFound(err) {
			deps.MetricInc(deps.Metrics.GrantInvalid)
			return fail(subject, deps.Errors.GrantInvalid, "account_missing")
		}
		return fail(subject, unavailable(ctx, deps, "find_account", err), "")
	}
	if account.Disabled {
		return fail(subject, deps.Errors.AccountDisabled, "")
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return fail(subject, fmt.Errorf("%w: %w", deps.Errors.PasswordPolicy, err), "hash")
	}

	if err := deps.VerifyPIN(ctx, subject, grant.ID, deps.GrantPurpose); err != nil {
		if errors.Is(err, pin.ErrUnavailable) {
			return fail(subject, unavailable(ctx, deps, "consume_grant", err), "")
		}
		deps.MetricInc(deps.Metrics.GrantInvalid)
		return fail(subject, fmt.Errorf("%w: %w", deps.Errors.GrantInvalid, err), "replayed")
	}
	deps.MetricInc(deps.Metrics.GrantConsumed)

	if err := deps.UpdatePasswordHash(ctx, account.ID, hash); err != nil {
		return fail(subject, unavailable(ctx, deps, "update_password", err), "")
	}

	deps.MetricInc(deps.Metrics.ResetCompleted)
	deps.EmitAudit(ctx, deps.Events.Complete, true, subject, nil, nil)
	return nil
}

func rejectByLimiter(ctx context.Context, deps PasswordResetDeps, event, scope, subject string, err error) error {
	if !errors.Is(err, deps.Errors.RateLimited) {
		mapped := unavailable(ctx, deps, scope, err)
		deps.EmitAudit(ctx, event, false, subject, mapped, nil)
		return mapped
	}

	deps.EmitAudit(ctx, event, false, subject, err, nil)
	deps.EmitRateLimit(ctx, scope, func() map[string]string {
		return map[string]string{
			"subject": subject,
		}
	})
	return err
}

func mapPINError(ctx context.Context, deps PasswordResetDeps, err error) error {
	switch {
	case errors.Is(err, pin.ErrInvalidCode):
		deps.MetricInc(deps.Metrics.VerifyInvalid)
		if left, ok := pin.AttemptsLeft(err); ok && left == 0 {
			deps.MetricInc(deps.Metrics.AttemptsExceeded)
		}
	case errors.Is(err, pin.ErrExpired):
		deps.MetricInc(deps.Metrics.VerifyExpired)
	case errors.Is(err, pin.ErrAttemptsExceeded):
		deps.MetricInc(deps.Metrics.AttemptsExceeded)
	case errors.Is(err, pin.ErrNotFound):
		deps.MetricInc(deps.Metrics.VerifyNotFound)
	default:
		return unavailable(ctx, deps, "verify_pin", err)
	}
	return fmt.Errorf("%w: %w", deps.Errors.Invalid, err)
}

func unavailable(ctx context.Context, deps PasswordResetDeps, op string, err error) error {
	deps.LogUnavailable(ctx, op, err)
	return fmt.Errorf("%w: %w", deps.Errors.Unavailable, err)
}

func normalizePasswordResetDeps(deps *PasswordResetDeps) {
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.IsAccountNotFound == nil {
		deps.IsAccountNotFound = func(error) bool { return false }
	}
	if deps.SleepEnumerationDelay == nil {
		deps.SleepEnumerationDelay = func(context.Context, time.Time) error { return nil }
	}
	if deps.CheckPasswordPolicy == nil {
		deps.CheckPasswordPolicy = func(string) error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.MetricObserve == nil {
		deps.MetricObserve = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.EmitRateLimit == nil {
		deps.EmitRateLimit = func(context.Context, string, func() map[string]string) {}
	}
	if deps.LogUnavailable == nil {
		deps.LogUnavailable = func(context.Context, string, error) {}
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.Disabled == nil {
		deps.Errors.Disabled = errors.New("password reset disabled")
	}
	if deps.Errors.Invalid == nil {
		deps.Errors.Invalid = errors.New("password reset challenge invalid")
	}
	if deps.Errors.RateLimited == nil {
		deps.Errors.RateLimited = errors.New("password reset rate limited")
	}
	if deps.Errors.Unavailable == nil {
		deps.Errors.Unavailable = errors.New("password reset backend unavailable")
	}
	if deps.Errors.PasswordPolicy == nil {
		deps.Errors.PasswordPolicy = errors.New("password policy violation")
	}
	if deps.Errors.GrantInvalid == nil {
		deps.Errors.GrantInvalid = errors.New("reset grant invalid")
	}
	if deps.Errors.AccountDisabled == nil {
		deps.Errors.AccountDisabled = errors.New("account disabled")
	}
}
