package flows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/goReset/pin"
)

var (
	errTestRateLimited = errors.New("rate limited")
	errTestNotFound    = errors.New("no such account")
)

type fakeEnv struct {
	pins      *pin.MemoryStore
	accounts  map[string]ResetAccount
	delivered map[string]string
	updated   map[string]string
	events    []string
	delays    int
	findErr   error
	limitErr  error
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		pins: pin.NewMemoryStore(),
		accounts: map[string]ResetAccount{
			"a@x.com": {ID: "u1", Email: "a@x.com"},
		},
		delivered: map[string]string{},
		updated:   map[string]string{},
	}
}

func (f *fakeEnv) deps() PasswordResetDeps {
	return PasswordResetDeps{
		Enabled:      true,
		PINLength:    6,
		Purpose:      "forgot_password",
		PINTTL:       10 * time.Minute,
		GrantPurpose: "reset_grant",
		GrantTTL:     10 * time.Minute,
		CheckRequestLimits: func(context.Context, string, string) error {
			return f.limitErr
		},
		CheckVerifyLimits: func(context.Context, string, string) error {
			return f.limitErr
		},
		FindAccount: func(_ context.Context, email string) (ResetAccount, error) {
			if f.findErr != nil {
				return ResetAccount{}, f.findErr
			}
			a, ok := f.accounts[email]
			if !ok {
				return ResetAccount{}, errTestNotFound
			}
			return a, nil
		},
		IsAccountNotFound: func(err error) bool { return errors.Is(err, errTestNotFound) },
		UpdatePasswordHash: func(_ context.Context, id, hash string) error {
			f.updated[id] = hash
			return nil
		},
		GeneratePIN: pin.Generate,
		StorePIN: func(ctx context.Context, subject, code, purpose string, ttl time.Duration) error {
			_, err := f.pins.Store(ctx, subject, code, purpose, ttl)
			return err
		},
		VerifyPIN: func(ctx context.Context, subject, code, purpose string) error {
			_, err := f.pins.Verify(ctx, subject, code, purpose)
			return err
		},
		DeliverPIN: func(_ context.Context, email, code string, _ time.Duration) {
			f.delivered[email] = code
		},
		SleepEnumerationDelay: func(context.Context, time.Time) error {
			f.delays++
			return nil
		},
		IssueGrant: func(subject string) (ResetGrant, error) {
			return ResetGrant{Token: "tok|" + subject + "|g1", ID: "g1"}, nil
		},
		ParseGrant: func(token string) (ResetGrant, error) {
			parts := strings.Split(token, "|")
			if len(parts) != 3 || parts[0] != "tok" {
				return ResetGrant{}, errors.New("bad token")
			}
			return ResetGrant{Token: token, Subject: parts[1], ID: parts[2]}, nil
		},
		CheckPasswordPolicy: func(p string) error {
			if len(p) < 10 {
				return errors.New("too short")
			}
			return nil
		},
		HashPassword: func(p string) (string, error) { return "hash:" + p, nil },
		EmitAudit: func(_ context.Context, eventType string, success bool, _ string, _ error, _ func() map[string]string) {
			status := "fail"
			if success {
				status = "ok"
			}
			f.events = append(f.events, eventType+":"+status)
		},
		Events: PasswordResetEvents{Request: "request", Verify: "verify", Complete: "complete"},
		Errors: PasswordResetErrors{RateLimited: errTestRateLimited},
	}
}

func TestServiceRunsFullReset(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	svc := New(Deps{PasswordReset: env.deps()})
	require.True(t, svc.Initialized())

	require.NoError(t, svc.RequestPasswordReset(ctx, "  A@X.com "))
	code := env.delivered["a@x.com"]
	require.Len(t, code, 6)

	grant, err := svc.VerifyResetPIN(ctx, "a@x.com", code)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", grant.Subject)

	require.NoError(t, svc.CompletePasswordReset(ctx, grant.Token, "new-password-1"))
	assert.Equal(t, "hash:new-password-1", env.updated["u1"])

	err = svc.CompletePasswordReset(ctx, grant.Token, "new-password-2")
	require.Error(t, err)
	assert.ErrorIs(t, err, pin.ErrNotFound)

	assert.Equal(t, []string{"request:ok", "verify:ok", "complete:ok", "complete:fail"}, env.events)
}

func TestUninitializedService(t *testing.T) {
	assert.False(t, Service{}.Initialized())
}

func TestRequestUnknownAccountTakesEnumerationSafePath(t *testing.T) {
	env := newFakeEnv()

	require.NoError(t, RunRequestPasswordReset(context.Background(), "nobody@x.com", env.deps()))
	assert.Empty(t, env.delivered)
	assert.Equal(t, 0, env.pins.Len())
	assert.Equal(t, 1, env.delays)
}

func TestRequestKnownAccountWaitsOutEnumerationDelay(t *testing.T) {
	env := newFakeEnv()

	require.NoError(t, RunRequestPasswordReset(context.Background(), "a@x.com", env.deps()))
	assert.NotEmpty(t, env.delivered["a@x.com"])
	assert.Equal(t, 1, env.delays)
}

func TestRequestDisabledAccountTakesEnumerationSafePath(t *testing.T) {
	env := newFakeEnv()
	env.accounts["off@x.com"] = ResetAccount{ID: "u2", Email: "off@x.com", Disabled: true}

	require.NoError(t, RunRequestPasswordReset(context.Background(), "off@x.com", env.deps()))
	assert.Empty(t, env.delivered)
	assert.Equal(t, 1, env.delays)
}

func TestRequestBackendFailureIsUnavailable(t *testing.T) {
	env := newFakeEnv()
	env.findErr = errors.New("connection refused")
	deps := env.deps()
	var logged string
	deps.LogUnavailable = func(_ context.Context, op string, _ error) { logged = op }

	err := RunRequestPasswordReset(context.Background(), "a@x.com", deps)
	require.Error(t, err)
	assert.Equal(t, "find_account", logged)
	assert.NotErrorIs(t, err, errTestRateLimited)
	assert.Zero(t, env.delays)
}

func TestRequestCanceledContextIsReturnedAsIs(t *testing.T) {
	env := newFakeEnv()
	env.findErr = context.Canceled

	err := RunRequestPasswordReset(context.Background(), "a@x.com", env.deps())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLimiterDenialPassesThrough(t *testing.T) {
	env := newFakeEnv()
	env.limitErr = errTestRateLimited
	deps := env.deps()
	var scope string
	deps.EmitRateLimit = func(_ context.Context, s string, _ func() map[string]string) { scope = s }

	err := RunRequestPasswordReset(context.Background(), "a@x.com", deps)
	assert.ErrorIs(t, err, errTestRateLimited)
	assert.Equal(t, "password_reset_request", scope)
	assert.Empty(t, env.delivered)
}

func TestVerifyMalformedCodeSkipsStore(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	deps := env.deps()
	require.NoError(t, RunRequestPasswordReset(ctx, "a@x.com", deps))

	for _, code := range []string{"12345", "1234567", "12a456"} {
		_, err := RunVerifyResetPIN(ctx, "a@x.com", code, deps)
		require.Error(t, err, code)
	}

	rec, err := env.pins.Peek(ctx, "a@x.com", "forgot_password")
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts)
}

func TestConfirmChecksPolicyBeforeConsumingPIN(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	svc := New(Deps{PasswordReset: env.deps()})
	require.NoError(t, svc.RequestPasswordReset(ctx, "a@x.com"))
	code := env.delivered["a@x.com"]

	require.Error(t, svc.ConfirmPasswordReset(ctx, "a@x.com", code, "short"))
	_, err := env.pins.Peek(ctx, "a@x.com", "forgot_password")
	require.NoError(t, err, "PIN must survive a policy rejection")

	require.NoError(t, svc.ConfirmPasswordReset(ctx, "a@x.com", code, "long-enough-pw"))
	assert.Equal(t, "hash:long-enough-pw", env.updated["u1"])
}

func TestDisabledFlowRejectsEverything(t *testing.T) {
	ctx := context.Background()
	env := newFakeEnv()
	deps := env.deps()
	deps.Enabled = false

	assert.Error(t, RunRequestPasswordReset(ctx, "a@x.com", deps))
	_, err := RunVerifyResetPIN(ctx, "a@x.com", "123456", deps)
	assert.Error(t, err)
	assert.Error(t, RunCompletePasswordReset(ctx, "tok|a@x.com|g1", "long-enough-pw", deps))
	assert.Empty(t, env.delivered)
}
