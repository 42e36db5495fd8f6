package goReset

import (
	"context"
	"errors"

	"github.com/MrEthical07/goReset/pin"
)

const (
	auditEventResetRequest       = "password_reset_request"
	auditEventResetVerify        = "password_reset_verify"
	auditEventResetComplete      = "password_reset_complete"
	auditEventRateLimitTriggered = "rate_limit_triggered"
	auditEventDeliveryFailed     = "pin_delivery_failed"
	auditEventSweep              = "sweep"
)

// AuditErrorCode is the stable error label written into AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrInvalidCode      AuditErrorCode = "invalid_code"
	auditErrExpired          AuditErrorCode = "expired"
	auditErrNotFound         AuditErrorCode = "not_found"
	auditErrAttemptsExceeded AuditErrorCode = "attempts_exceeded"
	auditErrInvalidRequest   AuditErrorCode = "invalid_request"
	auditErrGrantInvalid     AuditErrorCode = "grant_invalid"
	auditErrAccountDisabled  AuditErrorCode = "account_disabled"
	auditErrPasswordPolicy   AuditErrorCode = "password_policy"
	auditErrDisabled         AuditErrorCode = "disabled"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subject string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Subject:   subject,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metrics.Inc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	// Internal kinds first: ErrResetInvalid wraps them.
	switch {
	case errors.Is(err, ErrResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, pin.ErrExpired):
		return auditErrExpired
	case errors.Is(err, pin.ErrAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, pin.ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, pin.ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrGrantInvalid):
		return auditErrGrantInvalid
	case errors.Is(err, ErrResetInvalid):
		return auditErrInvalidRequest
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrResetDisabled):
		return auditErrDisabled
	case errors.Is(err, ErrResetUnavailable), errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
