package goReset

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/goReset/accounts"
	"github.com/MrEthical07/goReset/grant"
	internalflows "github.com/MrEthical07/goReset/internal/flows"
	"github.com/MrEthical07/goReset/internal/sweeper"
	"github.com/MrEthical07/goReset/mail"
	"github.com/MrEthical07/goReset/password"
	"github.com/MrEthical07/goReset/pin"
	"github.com/MrEthical07/goReset/ratelimit"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be built only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	pins      pin.Store
	limiter   ratelimit.Limiter
	accounts  accounts.Store
	mailer    mail.Mailer
	templates *mail.Templates
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects Redis-backed PIN storage and rate limiting. Explicit WithPINStore and
// WithLimiter values take precedence.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPINStore(store pin.Store) *Builder {
	b.pins = store
	return b
}

func (b *Builder) WithLimiter(limiter ratelimit.Limiter) *Builder {
	b.limiter = limiter
	return b
}

// WithAccountStore sets the account lookup used to resolve emails. Required.
func (b *Builder) WithAccountStore(store accounts.Store) *Builder {
	b.accounts = store
	return b
}

// WithMailer sets the PIN delivery transport. Without one, PIN emails are only logged.
func (b *Builder) WithMailer(m mail.Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithTemplates(t *mail.Templates) *Builder {
	b.templates = t
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for PIN expiry, rate windows and grant validation.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cloneConfig(cfg),
		accounts: b.accounts,
		logger:   logger,
		now:      now,
	}

	// -------- STORAGE --------
	engine.pins = b.pins
	if engine.pins == nil {
		opts := []pin.Option{pin.WithClock(now), pin.WithMaxAttempts(cfg.PIN.MaxAttempts)}
		if b.redis != nil {
			engine.pins = pin.NewRedisStore(b.redis, cfg.Backend.PINPrefix, opts...)
		} else {
			engine.pins = pin.NewMemoryStore(opts...)
		}
	}

	engine.limiter = b.limiter
	if engine.limiter == nil {
		if b.redis != nil {
			engine.limiter = ratelimit.NewRedisLimiter(b.redis, cfg.Backend.LimiterPrefix, ratelimit.WithClock(now))
		} else {
			engine.limiter = ratelimit.NewMemoryLimiter(ratelimit.WithClock(now))
		}
	}
	engine.requestIPPolicy = ratelimit.Policy{Name: "forgot-password", Max: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.RequestWindow}
	engine.requestSubjectPolicy = ratelimit.Policy{Name: "forgot-password-subject", Max: cfg.RateLimit.MaxSubjectRequests, Window: cfg.RateLimit.SubjectWindow}
	engine.verifyIPPolicy = ratelimit.Policy{Name: "reset-verify", Max: cfg.RateLimit.MaxVerifyAttempts, Window: cfg.RateLimit.VerifyWindow}
	engine.verifySubjectPolicy = ratelimit.Policy{Name: "reset-verify-subject", Max: cfg.RateLimit.MaxVerifyAttempts, Window: cfg.RateLimit.VerifyWindow}

	// -------- DELIVERY --------
	engine.mailer = b.mailer
	if engine.mailer == nil {
		logger.Warn("no mailer configured; reset PINs will only be logged")
		engine.mailer = mail.NewLogMailer(logger)
	}
	engine.templates = b.templates
	if engine.templates == nil {
		engine.templates = mail.DefaultTemplates()
	}

	// -------- CREDENTIALS --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	grantKey := cloneBytes(cfg.Grant.Key)
	if len(grantKey) == 0 {
		if grant.SigningMethod(cfg.Grant.SigningMethod) != grant.MethodHS256 {
			return nil, errors.New("ed25519 Grant Key required")
		}
		grantKey = make([]byte, 32)
		if _, err := rand.Read(grantKey); err != nil {
			return nil, fmt.Errorf("generate grant key: %w", err)
		}
		logger.Warn("no grant key configured; using an ephemeral key, grants will not survive a restart or validate on other instances")
	}
	grants, err := grant.NewManager(grant.Config{
		TTL:           cfg.Grant.TTL,
		SigningMethod: grant.SigningMethod(cfg.Grant.SigningMethod),
		PrivateKey:    grantKey,
		PublicKey:     cloneBytes(cfg.Grant.PublicKey),
		Issuer:        cfg.Grant.Issuer,
		Audience:      cfg.Grant.Audience,
		Leeway:        cfg.Grant.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	engine.grants = grants

	// -------- OBSERVABILITY --------
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	engine.flows = internalflows.New(internalflows.Deps{PasswordReset: engine.passwordResetFlowDeps()})

	// -------- SWEEPER --------
	jobs := []sweeper.Job{{Name: sweepJobPINs, Run: engine.pins.CleanupExpired}}
	if sw, ok := engine.limiter.(interface {
		Sweep(context.Context) (int, error)
	}); ok {
		jobs = append(jobs, sweeper.Job{Name: sweepJobLimiter, Run: sw.Sweep})
	}
	schedule := cfg.Sweep.Schedule
	if !cfg.Sweep.Enabled {
		schedule = ""
	}
	sw, err := sweeper.New(schedule, jobs,
		sweeper.WithLogger(logger),
		sweeper.WithTimeout(cfg.Sweep.Timeout),
		sweeper.WithObserver(engine.observeSweep),
	)
	if err != nil {
		return nil, err
	}
	engine.sweeper = sw
	if cfg.Sweep.Enabled {
		sw.Start()
	}

	b.built = true

	return engine, nil
}
