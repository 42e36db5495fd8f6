package goReset

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goReset/grant"
	"github.com/MrEthical07/goReset/pin"
	"github.com/robfig/cron/v3"
)

// Config is the full engine configuration. Start from DefaultConfig and override fields.
type Config struct {
	PIN       PINConfig
	RateLimit RateLimitConfig
	Reset     ResetConfig
	Grant     GrantConfig
	Password  PasswordConfig
	Sweep     SweepConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Backend   BackendConfig
}

/*
====================================
PIN CONFIG
====================================
*/

// PINConfig controls generated reset codes.
type PINConfig struct {
	Length      int // 6 or 8
	Purpose     string
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds the sliding windows applied to reset requests and PIN verification.
// A zero Max disables the corresponding check.
type RateLimitConfig struct {
	RequestWindow      time.Duration
	MaxRequests        int // per client IP
	SubjectWindow      time.Duration
	MaxSubjectRequests int // per email
	VerifyWindow       time.Duration
	MaxVerifyAttempts  int // per email and per client IP
}

/*
====================================
RESET CONFIG
====================================
*/

// ResetConfig controls the reset flow itself.
type ResetConfig struct {
	Enabled bool
	// Requests for a well-formed email return no earlier than a random delay in [EnumerationDelayMin,
	// EnumerationDelayMax] after the account lookup starts, known account or not.
	EnumerationDelayMin time.Duration
	EnumerationDelayMax time.Duration
	DeliveryTimeout     time.Duration
	AppName             string
}

// GrantConfig configures the signed token returned by a successful PIN verification.
type GrantConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Key           []byte // HMAC secret or Ed25519 private key; generated when empty
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

// PasswordConfig holds Argon2id parameters for the replacement password.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

// SweepConfig schedules removal of expired PINs and idle limiter keys.
type SweepConfig struct {
	Enabled  bool
	Schedule string // cron spec, e.g. "@every 1m"
	Timeout  time.Duration
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// BackendConfig holds Redis key prefixes used when the engine is built with a Redis client.
type BackendConfig struct {
	PINPrefix     string
	LimiterPrefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the recommended production defaults.
func DefaultConfig() Config {
	return Config{
		PIN: PINConfig{
			Length:      pin.Length6,
			Purpose:     "forgot_password",
			TTL:         10 * time.Minute,
			MaxAttempts: pin.DefaultMaxAttempts,
		},
		RateLimit: RateLimitConfig{
			RequestWindow:      time.Hour,
			MaxRequests:        5,
			SubjectWindow:      time.Hour,
			MaxSubjectRequests: 3,
			VerifyWindow:       15 * time.Minute,
			MaxVerifyAttempts:  10,
		},
		Reset: ResetConfig{
			Enabled:             true,
			EnumerationDelayMin: 20 * time.Millisecond,
			EnumerationDelayMax: 40 * time.Millisecond,
			DeliveryTimeout:     30 * time.Second,
			AppName:             "Account",
		},
		Grant: GrantConfig{
			TTL:           grant.DefaultTTL,
			SigningMethod: string(grant.MethodHS256),
			Issuer:        "goreset",
			Audience:      "password-reset",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "@every 1m",
			Timeout:  30 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Backend: BackendConfig{
			PINPrefix:     "rp",
			LimiterPrefix: "rl",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Grant.Key = cloneBytes(cfg.Grant.Key)
	out.Grant.PublicKey = cloneBytes(cfg.Grant.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// PIN
	if !pin.ValidLength(c.PIN.Length) {
		return errors.New("PIN Length must be 6 or 8")
	}
	if strings.TrimSpace(c.PIN.Purpose) == "" {
		return errors.New("PIN Purpose must not be empty")
	}
	if c.PIN.Purpose == grantPurpose {
		return errors.New("PIN Purpose is reserved")
	}
	if c.PIN.TTL <= 0 {
		return errors.New("PIN TTL must be > 0")
	}
	if c.PIN.TTL > 24*time.Hour {
		return errors.New("PIN TTL must be <= 24h")
	}
	if c.PIN.MaxAttempts <= 0 {
		return errors.New("PIN MaxAttempts must be > 0")
	}
	if c.PIN.MaxAttempts > 20 {
		return errors.New("PIN MaxAttempts must be <= 20")
	}

	// Rate limits
	if c.RateLimit.MaxRequests < 0 || c.RateLimit.MaxSubjectRequests < 0 || c.RateLimit.MaxVerifyAttempts < 0 {
		return errors.New("RateLimit maximums must be >= 0")
	}
	if c.RateLimit.MaxRequests > 0 && c.RateLimit.RequestWindow <= 0 {
		return errors.New("RateLimit RequestWindow must be > 0")
	}
	if c.RateLimit.MaxSubjectRequests > 0 && c.RateLimit.SubjectWindow <= 0 {
		return errors.New("RateLimit SubjectWindow must be > 0")
	}
	if c.RateLimit.MaxVerifyAttempts > 0 && c.RateLimit.VerifyWindow <= 0 {
		return errors.New("RateLimit VerifyWindow must be > 0")
	}

	// Reset
	if c.Reset.EnumerationDelayMin < 0 || c.Reset.EnumerationDelayMax < c.Reset.EnumerationDelayMin {
		return errors.New("Reset EnumerationDelay range is invalid")
	}
	if c.Reset.EnumerationDelayMax > 5*time.Second {
		return errors.New("Reset EnumerationDelayMax must be <= 5s")
	}
	if c.Reset.DeliveryTimeout <= 0 {
		return errors.New("Reset DeliveryTimeout must be > 0")
	}

	// Grant
	if c.Grant.TTL <= 0 {
		return errors.New("Grant TTL must be > 0")
	}
	if c.Grant.TTL > time.Hour {
		return errors.New("Grant TTL must be <= 1h")
	}
	switch grant.SigningMethod(c.Grant.SigningMethod) {
	case grant.MethodHS256:
		if len(c.Grant.Key) > 0 && len(c.Grant.Key) < 32 {
			return errors.New("hs256 Grant Key must be at least 32 bytes")
		}
	case grant.MethodEd25519:
		if len(c.Grant.Key) == 0 && len(c.Grant.PublicKey) > 0 {
			return errors.New("ed25519 Grant PublicKey requires Key")
		}
	default:
		return errors.New("unsupported Grant signing method")
	}
	if c.Grant.Leeway < 0 || c.Grant.Leeway > 2*time.Minute {
		return errors.New("Grant Leeway must be between 0 and 2m")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Sweep
	if c.Sweep.Enabled {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			return errors.New("Sweep Schedule is invalid")
		}
		if c.Sweep.Timeout < 0 {
			return errors.New("Sweep Timeout must be >= 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Backend
	if strings.TrimSpace(c.Backend.PINPrefix) == "" || strings.TrimSpace(c.Backend.LimiterPrefix) == "" {
		return errors.New("Backend prefixes must not be empty")
	}
	if prefixesOverlap(c.Backend.PINPrefix, c.Backend.LimiterPrefix) {
		return errors.New("Backend PINPrefix and LimiterPrefix must not share a key namespace")
	}

	return nil
}

// prefixesOverlap reports whether keys under one prefix can match the other's "prefix:*" scan.
func prefixesOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+":") || strings.HasPrefix(b, a+":")
}
