package app

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/checkout"
	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/health"
	"github.com/noah-isme/backend-tiket/internal/obs"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/ratelimit"
	"github.com/noah-isme/backend-tiket/internal/security"
)

const hstsMaxAge = 31536000

// Router mounts the public API, the health checks and metrics.
func (a *App) Router() *chi.Mux {
	cfg := a.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.AnnotationsMiddleware)
	if a.Deps.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if a.Deps.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: a.Deps.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: a.Logger}.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{
		Enable:                cfg.SecurityHeadersEnabled,
		EnableHSTS:            cfg.HSTSEnabled,
		HSTSMaxAge:            hstsMaxAge,
		HSTSIncludeSubdomains: true,
	}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	r.NotFound(common.NotFound)
	r.MethodNotAllowed(common.MethodNotAllowed)

	if a.Deps.Metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Checker: a, RedisTimeout: 300 * time.Millisecond}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	tickets := &catalog.Handler{Catalog: a.Catalog}
	orders := &checkout.Handler{Svc: a.Orders}
	verify := &payment.Handler{
		Verifier: payment.Verifier{Secret: cfg.PaymentSignatureSecret},
		Events:   a.Events,
		Logger:   a.Logger,
	}
	webhook := payment.Webhook{
		Verifier:  a.Webhook,
		Replay:    a.Deps.Redis,
		ReplayTTL: cfg.WebhookReplayTTL,
		Events:    a.Events,
		Logger:    a.Logger,
	}
	idem := common.Idem{R: a.Deps.Redis, TTL: cfg.IdempotencyTTL, Lock: cfg.GatewayTimeout + 5*time.Second}
	limiter := a.limiter()
	// both order paths share one budget per client, on top of the general one
	orderGuard := chi.Chain(a.rateLimit(limiter, "orders", cfg.RateLimitOrderMax).Middleware, idem.Middleware)

	r.Route("/api", func(api chi.Router) {
		api.Use(a.rateLimit(limiter, "api", cfg.RateLimitMax).Middleware)

		api.Route("/v1", func(v chi.Router) {
			v.Get("/tickets", tickets.Tickets)
			v.Post("/quote", orders.Quote)
			v.With(orderGuard...).Post("/orders", orders.CreateOrder)
			v.Post("/payments/verify", verify.Verify)
			v.Post("/webhooks/payment/razorpay", webhook.Handle)
		})

		// Paths the original checkout page posts to.
		api.Post("/quote", orders.Quote)
		api.With(orderGuard...).Post("/create-order", orders.CreateOrder)
		api.Post("/verify-payment", verify.Verify)
	})

	return r
}

// limiter shares budgets across replicas through Redis and falls back to
// process memory without it.
func (a *App) limiter() ratelimit.Limiter {
	if a.Deps.Redis != nil {
		return ratelimit.SlidingWindow{Client: a.Deps.Redis, Prefix: "rl:"}
	}
	return ratelimit.NewMemory("rl")
}

func (a *App) rateLimit(lim ratelimit.Limiter, scope string, max int) ratelimit.Handler {
	logger := a.Logger
	return ratelimit.Handler{
		Limiter: lim,
		Config: ratelimit.Config{
			Key:    ratelimit.KeyByClientIP(scope),
			Window: a.Config.RateLimitWindow,
			Max:    max,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate_limit_unavailable")
		},
	}
}
