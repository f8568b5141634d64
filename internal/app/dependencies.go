package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/checkout"
	"github.com/noah-isme/backend-tiket/internal/config"
	"github.com/noah-isme/backend-tiket/internal/events"
	"github.com/noah-isme/backend-tiket/internal/health"
	"github.com/noah-isme/backend-tiket/internal/obs"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/pricing"
	"github.com/noah-isme/backend-tiket/internal/resilience"
	"github.com/noah-isme/backend-tiket/internal/voucher"
)

// Dependencies enumerates the shared resources the entrypoint owns and hands to the app.
// Every field is optional.
type Dependencies struct {
	Redis       *redis.Client
	Tasks       events.Enqueuer
	HTTPMetrics *obs.HTTPMetrics
	Metrics     bool
	Tracing     bool
}

// App is the wired ticketing service.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Deps    Dependencies
	Catalog *catalog.Catalog
	Engine  *pricing.Engine
	Breaker *resilience.Breaker
	Gateway payment.Gateway
	Webhook payment.WebhookVerifier
	Events  *events.Bus
	Orders  *checkout.Service
}

// New builds the pricing engine, gateway client and event bus from configuration.
func New(cfg *config.Config, logger zerolog.Logger, deps Dependencies) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	prices, err := catalog.New(cfg.TicketPrices, cfg.CurrencyCode, cfg.CurrencySymbol)
	if err != nil {
		return nil, fmt.Errorf("app: ticket catalog: %w", err)
	}
	coupons, err := voucher.NewCatalog(cfg.Coupons)
	if err != nil {
		return nil, fmt.Errorf("app: coupons: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Deps:    deps,
		Catalog: prices,
		Engine:  &pricing.Engine{Prices: prices, Coupons: coupons},
		Breaker: resilience.NewBreaker(cfg.CircuitGatewayMinReq, cfg.CircuitGatewayFailureRate, cfg.CircuitGatewayOpenFor).
			WithTarget("razorpay").
			WithLogger(logger),
	}

	switch cfg.PaymentGateway {
	case config.GatewayStub:
		a.Gateway = payment.Stub{}
		logger.Warn().Msg("payment gateway stubbed; orders are not sent upstream")
	default:
		rzp := payment.Razorpay{
			KeyID:         cfg.RazorpayKeyID,
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
			BaseURL:       cfg.RazorpayBaseURL,
			HTTP:          payment.NewRazorpayHTTP(a.Breaker, cfg.GatewayTimeout, &logger),
			Logger:        logger,
		}
		a.Gateway = rzp
		a.Webhook = rzp
	}

	if deps.Tasks != nil {
		a.Events = &events.Bus{
			Client:   deps.Tasks,
			Queue:    cfg.EventsQueue,
			MaxRetry: cfg.EventsMaxRetry,
			Logger:   logger,
		}
	}

	a.Orders = &checkout.Service{
		Engine:        a.Engine,
		Gateway:       a.Gateway,
		Currency:      cfg.CurrencyCode,
		KeyID:         cfg.RazorpayKeyID,
		ReceiptPrefix: cfg.ReceiptPrefix,
		Events:        a.Events,
		Logger:        logger,
	}
	return a, nil
}

// PingRedis implements health.Checker. A missing client reports as disabled.
func (a *App) PingRedis(ctx context.Context, timeout time.Duration) error {
	if a.Deps.Redis == nil {
		return health.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.Deps.Redis.Ping(ctx).Err()
}

// GatewayReady implements health.Checker.
func (a *App) GatewayReady(_ context.Context) error {
	if _, stub := a.Gateway.(payment.Stub); stub {
		return nil
	}
	if a.Breaker.State() == resilience.Open {
		return resilience.ErrOpenCircuit
	}
	return nil
}
