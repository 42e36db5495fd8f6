package main

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MAIL_BACKEND", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MailBackend != "log" {
		t.Fatalf("unexpected defaults: addr=%q mail=%q", cfg.HTTPAddr, cfg.MailBackend)
	}
	if cfg.HTTPRateMax != 60 || cfg.HTTPRateWindow != time.Minute {
		t.Fatalf("unexpected route quota defaults: %d per %s", cfg.HTTPRateMax, cfg.HTTPRateWindow)
	}

	engineCfg := cfg.EngineConfig()
	if err := engineCfg.Validate(); err != nil {
		t.Fatalf("default engine config invalid: %v", err)
	}
	if engineCfg.PIN.TTL != 10*time.Minute || engineCfg.RateLimit.MaxRequests != 5 {
		t.Fatalf("unexpected engine defaults: %+v %+v", engineCfg.PIN, engineCfg.RateLimit)
	}
}

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("PIN_LENGTH", "8")
	t.Setenv("PIN_TTL", "5m")
	t.Setenv("RATE_MAX_REQUESTS", "2")
	t.Setenv("VERIFY_WINDOW", "30m")
	t.Setenv("GRANT_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("TRUST_PROXY", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || !cfg.TrustProxy {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}

	engineCfg := cfg.EngineConfig()
	if engineCfg.PIN.Length != 8 || engineCfg.PIN.TTL != 5*time.Minute {
		t.Fatalf("unexpected PIN config: %+v", engineCfg.PIN)
	}
	if engineCfg.RateLimit.MaxRequests != 2 || engineCfg.RateLimit.VerifyWindow != 30*time.Minute {
		t.Fatalf("unexpected rate limit config: %+v", engineCfg.RateLimit)
	}
	if string(engineCfg.Grant.Key) != "0123456789abcdef0123456789abcdef" {
		t.Fatal("expected grant key from environment")
	}
	if err := engineCfg.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
}

func TestLoadConfigRejectsIncompleteMailBackends(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "smtp without host", env: map[string]string{"MAIL_BACKEND": "smtp"}, wantErr: "SMTP_HOST"},
		{name: "amqp without url", env: map[string]string{"MAIL_BACKEND": "amqp"}, wantErr: "AMQP_URL"},
		{name: "unknown backend", env: map[string]string{"MAIL_BACKEND": "pigeon"}, wantErr: "MAIL_BACKEND"},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}, wantErr: "LOG_LEVEL"},
		{name: "negative route quota", env: map[string]string{"HTTP_RATE_MAX": "-1"}, wantErr: "HTTP_RATE_MAX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error to mention %s, got %v", tt.wantErr, err)
			}
		})
	}
}
