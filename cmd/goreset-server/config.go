package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	goReset "github.com/MrEthical07/goReset"
)

// ServerConfig is loaded from the environment (and an optional .env file).
type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"HTTP_ADDR"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	TrustProxy      bool          `mapstructure:"TRUST_PROXY"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	DatabaseURL       string `mapstructure:"DATABASE_URL"`
	MigrateOnStart    bool   `mapstructure:"MIGRATE_ON_START"`
	DemoAccountEmail  string `mapstructure:"DEMO_ACCOUNT_EMAIL"`
	DemoAccountSecret string `mapstructure:"DEMO_ACCOUNT_PASSWORD"`

	MailBackend    string        `mapstructure:"MAIL_BACKEND"`
	SMTPHost       string        `mapstructure:"SMTP_HOST"`
	SMTPPort       int           `mapstructure:"SMTP_PORT"`
	SMTPUsername   string        `mapstructure:"SMTP_USERNAME"`
	SMTPPassword   string        `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom       string        `mapstructure:"SMTP_FROM"`
	SMTPMaxConns   int           `mapstructure:"SMTP_MAX_CONNS"`
	SMTPTimeout    time.Duration `mapstructure:"SMTP_TIMEOUT"`
	AMQPURL        string        `mapstructure:"AMQP_URL"`
	AMQPExchange   string        `mapstructure:"AMQP_EXCHANGE"`
	AMQPRoutingKey string        `mapstructure:"AMQP_ROUTING_KEY"`

	AppName           string        `mapstructure:"APP_NAME"`
	PINLength         int           `mapstructure:"PIN_LENGTH"`
	PINTTL            time.Duration `mapstructure:"PIN_TTL"`
	PINMaxAttempts    int           `mapstructure:"PIN_MAX_ATTEMPTS"`
	RateWindow        time.Duration `mapstructure:"RATE_WINDOW"`
	RateMaxRequests   int           `mapstructure:"RATE_MAX_REQUESTS"`
	SubjectWindow     time.Duration `mapstructure:"SUBJECT_WINDOW"`
	SubjectMaxRequest int           `mapstructure:"SUBJECT_MAX_REQUESTS"`
	VerifyWindow      time.Duration `mapstructure:"VERIFY_WINDOW"`
	VerifyMaxAttempts int           `mapstructure:"VERIFY_MAX_ATTEMPTS"`
	HTTPRateWindow    time.Duration `mapstructure:"HTTP_RATE_WINDOW"`
	HTTPRateMax       int           `mapstructure:"HTTP_RATE_MAX"`
	GrantTTL          time.Duration `mapstructure:"GRANT_TTL"`
	GrantKey          string        `mapstructure:"GRANT_KEY"`
	SweepSchedule     string        `mapstructure:"SWEEP_SCHEDULE"`
	AuditEnabled      bool          `mapstructure:"AUDIT_ENABLED"`
	MetricsEnabled    bool          `mapstructure:"METRICS_ENABLED"`
}

var serverKeys = []string{
	"HTTP_ADDR", "SHUTDOWN_TIMEOUT", "LOG_LEVEL", "TRUST_PROXY",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"DATABASE_URL", "MIGRATE_ON_START", "DEMO_ACCOUNT_EMAIL", "DEMO_ACCOUNT_PASSWORD",
	"MAIL_BACKEND", "SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"SMTP_MAX_CONNS", "SMTP_TIMEOUT", "AMQP_URL", "AMQP_EXCHANGE", "AMQP_ROUTING_KEY",
	"APP_NAME", "PIN_LENGTH", "PIN_TTL", "PIN_MAX_ATTEMPTS",
	"RATE_WINDOW", "RATE_MAX_REQUESTS", "HTTP_RATE_WINDOW", "HTTP_RATE_MAX", "SUBJECT_WINDOW", "SUBJECT_MAX_REQUESTS",
	"VERIFY_WINDOW", "VERIFY_MAX_ATTEMPTS", "GRANT_TTL", "GRANT_KEY",
	"SWEEP_SCHEDULE", "AUDIT_ENABLED", "METRICS_ENABLED",
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	d := goReset.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("MAIL_BACKEND", "log")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_MAX_CONNS", 4)
	v.SetDefault("SMTP_TIMEOUT", "10s")
	v.SetDefault("AMQP_EXCHANGE", "notifications")
	v.SetDefault("AMQP_ROUTING_KEY", "password_reset.pin")
	v.SetDefault("APP_NAME", d.Reset.AppName)
	v.SetDefault("PIN_LENGTH", d.PIN.Length)
	v.SetDefault("PIN_TTL", d.PIN.TTL.String())
	v.SetDefault("PIN_MAX_ATTEMPTS", d.PIN.MaxAttempts)
	v.SetDefault("RATE_WINDOW", d.RateLimit.RequestWindow.String())
	v.SetDefault("RATE_MAX_REQUESTS", d.RateLimit.MaxRequests)
	v.SetDefault("SUBJECT_WINDOW", d.RateLimit.SubjectWindow.String())
	v.SetDefault("SUBJECT_MAX_REQUESTS", d.RateLimit.MaxSubjectRequests)
	v.SetDefault("VERIFY_WINDOW", d.RateLimit.VerifyWindow.String())
	v.SetDefault("VERIFY_MAX_ATTEMPTS", d.RateLimit.MaxVerifyAttempts)
	v.SetDefault("HTTP_RATE_WINDOW", "1m")
	v.SetDefault("HTTP_RATE_MAX", 60)
	v.SetDefault("GRANT_TTL", d.Grant.TTL.String())
	v.SetDefault("SWEEP_SCHEDULE", d.Sweep.Schedule)
	v.SetDefault("METRICS_ENABLED", true)
	v.AutomaticEnv()

	// Bind explicitly so keys without defaults still reach Unmarshal.
	for _, key := range serverKeys {
		_ = v.BindEnv(key)
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	switch c.MailBackend {
	case "log":
	case "smtp":
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return errors.New("SMTP_HOST and SMTP_FROM are required for MAIL_BACKEND=smtp")
		}
	case "amqp":
		if c.AMQPURL == "" {
			return errors.New("AMQP_URL is required for MAIL_BACKEND=amqp")
		}
	default:
		return fmt.Errorf("unsupported MAIL_BACKEND %q", c.MailBackend)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.HTTPRateMax < 0 || (c.HTTPRateMax > 0 && c.HTTPRateWindow <= 0) {
		return errors.New("HTTP_RATE_MAX must be >= 0 and HTTP_RATE_WINDOW > 0 when enabled")
	}
	if c.DemoAccountEmail != "" && c.DatabaseURL != "" {
		return errors.New("DEMO_ACCOUNT_EMAIL is only used with the in-memory account store")
	}
	return nil
}

// EngineConfig maps the server settings onto the engine configuration.
func (c *ServerConfig) EngineConfig() goReset.Config {
	cfg := goReset.DefaultConfig()
	cfg.Reset.AppName = c.AppName
	cfg.PIN.Length = c.PINLength
	cfg.PIN.TTL = c.PINTTL
	cfg.PIN.MaxAttempts = c.PINMaxAttempts
	cfg.RateLimit.RequestWindow = c.RateWindow
	cfg.RateLimit.MaxRequests = c.RateMaxRequests
	cfg.RateLimit.SubjectWindow = c.SubjectWindow
	cfg.RateLimit.MaxSubjectRequests = c.SubjectMaxRequest
	cfg.RateLimit.VerifyWindow = c.VerifyWindow
	cfg.RateLimit.MaxVerifyAttempts = c.VerifyMaxAttempts
	cfg.Grant.TTL = c.GrantTTL
	if c.GrantKey != "" {
		cfg.Grant.Key = []byte(c.GrantKey)
	}
	cfg.Sweep.Schedule = c.SweepSchedule
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	return cfg
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
