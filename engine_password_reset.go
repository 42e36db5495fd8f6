package goReset

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/MrEthical07/goReset/accounts"
	internalflows "github.com/MrEthical07/goReset/internal/flows"
	"github.com/MrEthical07/goReset/mail"
	"github.com/MrEthical07/goReset/pin"
	"github.com/MrEthical07/goReset/ratelimit"
)

// RequestPasswordReset issues a reset PIN for email and hands it to the mailer without
// waiting for delivery.
//
// Unknown or disabled accounts get the same nil result after a short random delay, so the
// response does not reveal whether the email is registered. Rate limiting applies per
// client IP (see WithClientIP) and per email before the account lookup.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.RequestPasswordReset(ctx, email)
}

// VerifyResetPIN checks code for email. On success the PIN is consumed and a single-use
// ResetGrant is returned.
//
// Every rejected code returns an error matching ErrResetInvalid that also wraps the
// underlying pin error (pin.ErrExpired, pin.ErrNotFound, ...). ResetAttemptsLeft reports
// the remaining budget after a mismatch.
func (e *Engine) VerifyResetPIN(ctx context.Context, email, code string) (ResetGrant, error) {
	if !e.ready() {
		return ResetGrant{}, ErrEngineNotReady
	}
	g, err := e.flows.VerifyResetPIN(ctx, email, code)
	if err != nil {
		return ResetGrant{}, err
	}
	return ResetGrant{Token: g.Token, ExpiresAt: g.ExpiresAt}, nil
}

// CompletePasswordReset redeems grant and replaces the account password.
func (e *Engine) CompletePasswordReset(ctx context.Context, grantToken, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.CompletePasswordReset(ctx, grantToken, newPassword)
}

// ConfirmPasswordReset verifies code and sets newPassword in one call.
//
// The password policy is checked first so a weak password does not consume the PIN.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	return e.flows.ConfirmPasswordReset(ctx, email, code, newPassword)
}

func (e *Engine) passwordResetFlowDeps() internalflows.PasswordResetDeps {
	cfg := e.config

	return internalflows.PasswordResetDeps{
		Enabled:      cfg.Reset.Enabled,
		PINLength:    cfg.PIN.Length,
		Purpose:      cfg.PIN.Purpose,
		PINTTL:       cfg.PIN.TTL,
		GrantPurpose: grantPurpose,
		GrantTTL:     e.grants.TTL(),

		ClientIPFromContext: ClientIPFromContext,
		CheckRequestLimits:  e.checkRequestLimits,
		CheckVerifyLimits:   e.checkVerifyLimits,

		FindAccount: func(ctx context.Context, email string) (internalflows.ResetAccount, error) {
			a, err := e.accounts.FindByEmail(ctx, email)
			if err != nil {
				return internalflows.ResetAccount{}, err
			}
			return internalflows.ResetAccount{ID: a.ID, Email: a.Email, Disabled: a.Disabled}, nil
		},
		IsAccountNotFound: func(err error) bool {
			return errors.Is(err, accounts.ErrNotFound)
		},
		UpdatePasswordHash: e.accounts.UpdatePasswordHash,

		GeneratePIN: pin.Generate,
		StorePIN: func(ctx context.Context, subject, code, purpose string, ttl time.Duration) error {
			_, err := e.pins.Store(ctx, subject, code, purpose, ttl)
			return err
		},
		VerifyPIN: func(ctx context.Context, subject, code, purpose string) error {
			_, err := e.pins.Verify(ctx, subject, code, purpose)
			return err
		},

		DeliverPIN:            e.deliverPIN,
		SleepEnumerationDelay: e.sleepEnumerationDelay,

		IssueGrant: func(subject string) (internalflows.ResetGrant, error) {
			tok, err := e.grants.Issue(subject, cfg.PIN.Purpose)
			if err != nil {
				return internalflows.ResetGrant{}, err
			}
			return internalflows.ResetGrant{Token: tok.Value, ID: tok.ID, ExpiresAt: tok.ExpiresAt}, nil
		},
		ParseGrant: func(token string) (internalflows.ResetGrant, error) {
			claims, err := e.grants.Parse(token, cfg.PIN.Purpose)
			if err != nil {
				return internalflows.ResetGrant{}, err
			}
			g := internalflows.ResetGrant{Token: token, ID: claims.ID, Subject: claims.Subject}
			if claims.ExpiresAt != nil {
				g.ExpiresAt = claims.ExpiresAt.Time
			}
			return g, nil
		},
		CheckPasswordPolicy: e.hasher.CheckPolicy,
		HashPassword:        e.hasher.Hash,

		MetricInc: func(id int) {
			e.metrics.Inc(MetricID(id))
		},
		MetricObserve: func(id int, d time.Duration) {
			e.metrics.Observe(MetricID(id), d)
		},
		EmitAudit:     e.emitAudit,
		EmitRateLimit: e.emitRateLimit,
		LogUnavailable: func(ctx context.Context, op string, err error) {
			e.logger.ErrorContext(ctx, "password reset backend failure", slog.String("op", op), slog.Any("error", err))
		},

		Metrics: internalflows.PasswordResetMetrics{
			Request:          int(MetricResetRequest),
			RequestUnknown:   int(MetricResetRequestUnknown),
			PINIssued:        int(MetricPINIssued),
			VerifySuccess:    int(MetricPINVerifySuccess),
			VerifyInvalid:    int(MetricPINVerifyInvalid),
			VerifyExpired:    int(MetricPINVerifyExpired),
			VerifyNotFound:   int(MetricPINVerifyNotFound),
			AttemptsExceeded: int(MetricPINAttemptsExceeded),
			GrantIssued:      int(MetricGrantIssued),
			GrantConsumed:    int(MetricGrantConsumed),
			GrantInvalid:     int(MetricGrantInvalid),
			ResetCompleted:   int(MetricResetCompleted),
			ResetFailure:     int(MetricResetFailure),
			VerifyLatency:    int(MetricVerifyLatency),
		},
		Events: internalflows.PasswordResetEvents{
			Request:  auditEventResetRequest,
			Verify:   auditEventResetVerify,
			Complete: auditEventResetComplete,
		},
		Errors: internalflows.PasswordResetErrors{
			EngineNotReady:  ErrEngineNotReady,
			Disabled:        ErrResetDisabled,
			Invalid:         ErrResetInvalid,
			RateLimited:     ErrResetRateLimited,
			Unavailable:     ErrResetUnavailable,
			PasswordPolicy:  ErrPasswordPolicy,
			GrantInvalid:    ErrGrantInvalid,
			AccountDisabled: ErrAccountDisabled,
		},
	}
}

func (e *Engine) checkRequestLimits(ctx context.Context, subject, ip string) error {
	if ip != "" {
		if err := e.checkPolicy(ctx, e.requestIPPolicy, ip); err != nil {
			return err
		}
	}
	return e.checkPolicy(ctx, e.requestSubjectPolicy, subject)
}

func (e *Engine) checkVerifyLimits(ctx context.Context, subject, ip string) error {
	if ip != "" {
		if err := e.checkPolicy(ctx, e.verifyIPPolicy, ip); err != nil {
			return err
		}
	}
	return e.checkPolicy(ctx, e.verifySubjectPolicy, subject)
}

// checkPolicy skips policies with Max 0; Validate already rejected negative values.
func (e *Engine) checkPolicy(ctx context.Context, p ratelimit.Policy, value string) error {
	if p.Max == 0 {
		return nil
	}
	d, err := p.Allow(ctx, e.limiter, value)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return &RateLimitError{Scope: p.Name, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (e *Engine) deliverPIN(ctx context.Context, email, code string, ttl time.Duration) {
	msg, err := e.templates.Render(mail.PINData{
		To:      email,
		Code:    code,
		Purpose: e.config.PIN.Purpose,
		TTL:     ttl,
		AppName: e.config.Reset.AppName,
	})
	if err != nil {
		e.deliveryFailed(ctx, email, err)
		return
	}

	e.closeMu.RLock()
	if e.closed {
		e.closeMu.RUnlock()
		return
	}
	e.delivery.Add(1)
	e.closeMu.RUnlock()

	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer e.delivery.Done()

		ctx, cancel := context.WithTimeout(sendCtx, e.config.Reset.DeliveryTimeout)
		defer cancel()

		if err := e.mailer.Send(ctx, msg); err != nil {
			e.deliveryFailed(sendCtx, email, err)
		}
	}()
}

func (e *Engine) deliveryFailed(ctx context.Context, email string, err error) {
	e.metrics.Inc(MetricDeliveryFailure)
	e.logger.WarnContext(ctx, "reset PIN delivery failed", slog.String("to", email), slog.Any("error", err))
	e.emitAudit(ctx, auditEventDeliveryFailed, false, email, err, nil)
}

const (
	sweepJobPINs    = "pins"
	sweepJobLimiter = "rate_limits"
)

func (e *Engine) observeSweep(job string, removed int, err error) {
	if removed > 0 {
		id := MetricSweepRemovedPINs
		if job == sweepJobLimiter {
			id = MetricSweepRemovedLimiterKeys
		}
		e.metrics.Add(id, uint64(removed))
	}
	if err == nil && removed == 0 {
		return
	}
	e.emitAudit(context.Background(), auditEventSweep, err == nil, "", err, func() map[string]string {
		return map[string]string{
			"job":     job,
			"removed": strconv.Itoa(removed),
		}
	})
}

// sleepEnumerationDelay pads a request so it returns no earlier than a random point in
// [EnumerationDelayMin, EnumerationDelayMax] after since. Work already done counts toward it.
func (e *Engine) sleepEnumerationDelay(ctx context.Context, since time.Time) error {
	minDelay := e.config.Reset.EnumerationDelayMin
	maxDelay := e.config.Reset.EnumerationDelayMax
	if maxDelay <= 0 {
		return nil
	}

	delay := minDelay
	if span := int64(maxDelay - minDelay); span > 0 {
		n, err := rand.Int(rand.Reader, big.NewInt(span+1))
		if err != nil {
			return err
		}
		delay += time.Duration(n.Int64())
	}
	delay -= time.Since(since)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
