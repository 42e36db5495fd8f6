package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	goReset "github.com/MrEthical07/goReset"
	"github.com/MrEthical07/goReset/middleware"
	"github.com/MrEthical07/goReset/ratelimit"
)

// Service is the part of [goReset.Engine] the handlers call.
type Service interface {
	RequestPasswordReset(ctx context.Context, email string) error
	VerifyResetPIN(ctx context.Context, email, code string) (goReset.ResetGrant, error)
	CompletePasswordReset(ctx context.Context, grantToken, newPassword string) error
	ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error
}

const defaultMaxBodyBytes = 16 << 10

// Options tunes the router. The zero value is usable.
type Options struct {
	// Metrics is mounted at GET /metrics when non-nil.
	Metrics http.Handler
	// Health is called by GET /healthz. A non-nil error answers 503.
	Health func(ctx context.Context) error
	// TrustProxy honours X-Forwarded-For and X-Real-IP for the client IP.
	TrustProxy bool
	// MaxBodyBytes caps request bodies. Defaults to 16 KiB.
	MaxBodyBytes int64
	Logger       *slog.Logger

	// Limiter and RoutePolicy put a coarse per-IP quota in front of every
	// /password-reset route. Skipped when Limiter is nil or RoutePolicy.Max is 0.
	Limiter     ratelimit.Limiter
	RoutePolicy ratelimit.Policy
}

// NewRouter returns an http.Handler serving the reset routes backed by svc.
func NewRouter(svc Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	h := &handlers{svc: svc, opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.ClientIP)

	r.Route("/password-reset", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.Limiter, opts.RoutePolicy, middleware.ByClientIP))
		r.Post("/request", h.request)
		r.Post("/verify", h.verify)
		r.Post("/complete", h.complete)
		r.Post("/confirm", h.confirm)
	})
	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}
