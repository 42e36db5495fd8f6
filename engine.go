package goReset

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goReset/accounts"
	"github.com/MrEthical07/goReset/grant"
	internalaudit "github.com/MrEthical07/goReset/internal/audit"
	internalflows "github.com/MrEthical07/goReset/internal/flows"
	"github.com/MrEthical07/goReset/internal/sweeper"
	"github.com/MrEthical07/goReset/mail"
	"github.com/MrEthical07/goReset/password"
	"github.com/MrEthical07/goReset/pin"
	"github.com/MrEthical07/goReset/ratelimit"
)

// grantPurpose is the PIN store purpose under which issued grant ids are kept.
const grantPurpose = "reset_grant"

// Engine runs the password reset flow. It is safe for concurrent use once built.
type Engine struct {
	config Config

	pins      pin.Store
	limiter   ratelimit.Limiter
	accounts  accounts.Store
	mailer    mail.Mailer
	templates *mail.Templates
	grants    *grant.Manager
	hasher    *password.Argon2

	requestIPPolicy      ratelimit.Policy
	requestSubjectPolicy ratelimit.Policy
	verifyIPPolicy       ratelimit.Policy
	verifySubjectPolicy  ratelimit.Policy

	flows internalflows.Service

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	sweeper *sweeper.Sweeper
	now     func() time.Time

	closeMu  sync.RWMutex
	closed   bool
	delivery sync.WaitGroup
}

// Close stops the sweeper, waits for in-flight PIN deliveries and flushes the audit
// dispatcher. Calling Close more than once is safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	if e.sweeper != nil {
		<-e.sweeper.Stop().Done()
	}
	e.delivery.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDelivered returns the number of audit events handed to the sink.
func (e *Engine) AuditDelivered() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Delivered()
}

// AuditDropped returns the number of audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of all counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Sweep removes expired PINs and idle limiter keys now instead of waiting for the schedule.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e == nil || e.sweeper == nil {
		return 0, ErrEngineNotReady
	}
	return e.sweeper.RunOnce(ctx)
}

// Limiter exposes the engine's limiter so HTTP middleware can share its state.
func (e *Engine) Limiter() ratelimit.Limiter {
	if e == nil {
		return nil
	}
	return e.limiter
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) ready() bool {
	if e == nil {
		return false
	}
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	return !e.closed && e.flows.Initialized()
}
