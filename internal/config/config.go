package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/voucher"
)

// Gateway selectors accepted by PAYMENT_GATEWAY.
const (
	GatewayRazorpay = "razorpay"
	GatewayStub     = "stub"
)

var validate = validator.New()

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	PaymentGateway         string
	RazorpayKeyID          string
	RazorpayKeySecret      string
	RazorpayWebhookSecret  string
	RazorpayBaseURL        string `validate:"omitempty,url"`
	PaymentSignatureSecret string

	CurrencyCode   string `validate:"len=3,alpha,uppercase"`
	CurrencySymbol string `validate:"required"`
	// receipts are "<prefix>_<unix millis>_<8 hex>" and the gateway caps them at 40
	ReceiptPrefix string `validate:"required,alphanum,max=17"`
	TicketPrices  map[catalog.TicketType]int64
	Coupons       []voucher.Rule

	GatewayTimeout            time.Duration `validate:"gt=0"`
	CircuitGatewayMinReq      int           `validate:"gte=1"`
	CircuitGatewayFailureRate float64       `validate:"gt=0,lte=1"`
	CircuitGatewayOpenFor     time.Duration `validate:"gt=0"`

	IdempotencyTTL         time.Duration `validate:"gt=0"`
	WebhookReplayTTL       time.Duration `validate:"gt=0"`
	RateLimitWindow        time.Duration
	RateLimitMax           int   `validate:"gte=0"`
	RateLimitOrderMax      int   `validate:"gte=0"`
	BodyLimitBytes         int64 `validate:"gt=0"`
	SecurityHeadersEnabled bool
	HSTSEnabled            bool

	EventsEnabled      bool
	EventsQueue        string `validate:"required"`
	EventsMaxRetry     int    `validate:"gte=0"`
	WorkerConcurrency  int    `validate:"gte=1"`
	NotifyEmailEnabled bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PaymentGateway:         strings.ToLower(valueOrDefault(k.String("PAYMENT_GATEWAY"), GatewayRazorpay)),
		RazorpayKeyID:          strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:      strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayWebhookSecret:  strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
		RazorpayBaseURL:        strings.TrimSpace(k.String("RAZORPAY_BASE_URL")),
		PaymentSignatureSecret: strings.TrimSpace(k.String("PAYMENT_SIGNATURE_SECRET")),

		CurrencyCode:   strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		CurrencySymbol: valueOrDefault(k.String("CURRENCY_SYMBOL"), "₹"),
		ReceiptPrefix:  valueOrDefault(k.String("RECEIPT_PREFIX"), "zero26"),

		GatewayTimeout:            parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),
		CircuitGatewayMinReq:      parseInt(k.String("CIRCUIT_GATEWAY_MIN_REQ"), 10),
		CircuitGatewayFailureRate: parseFloat(k.String("CIRCUIT_GATEWAY_FAILURE_RATE"), 0.5),
		CircuitGatewayOpenFor:     parseDuration(k.String("CIRCUIT_GATEWAY_OPEN_FOR"), "30s"),

		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "48h"),
		RateLimitWindow:        parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:           parseInt(k.String("RATE_LIMIT_MAX"), 60),
		RateLimitOrderMax:      parseInt(k.String("RATE_LIMIT_ORDER_MAX"), 10),
		BodyLimitBytes:         int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		HSTSEnabled:            parseBool(k.String("SECURITY_HSTS_ENABLED")),

		EventsEnabled:      parseBool(k.String("EVENTS_ENABLED")),
		EventsQueue:        valueOrDefault(k.String("EVENTS_QUEUE"), "events"),
		EventsMaxRetry:     parseInt(k.String("EVENTS_MAX_RETRY"), 8),
		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 5),
		NotifyEmailEnabled: parseBoolDefault(k.String("NOTIFY_EMAIL_ENABLED"), true),
	}

	prices, err := catalog.Parse(k.String("TICKET_PRICES"))
	if err != nil {
		return nil, fmt.Errorf("TICKET_PRICES: %w", err)
	}
	cfg.TicketPrices = prices

	coupons, err := voucher.ParseRules(k.String("COUPONS"))
	if err != nil {
		return nil, fmt.Errorf("COUPONS: %w", err)
	}
	cfg.Coupons = coupons

	if err := validate.Struct(cfg); err != nil {
		return nil, describeInvalid(err)
	}

	if cfg.PaymentSignatureSecret == "" {
		cfg.PaymentSignatureSecret = cfg.RazorpayKeySecret
	}

	switch cfg.PaymentGateway {
	case GatewayRazorpay:
		if cfg.RazorpayKeyID == "" || cfg.RazorpayKeySecret == "" {
			return nil, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
		}
	case GatewayStub:
		if cfg.IsProduction() {
			return nil, errors.New("PAYMENT_GATEWAY=stub is not allowed in production")
		}
	default:
		return nil, fmt.Errorf("PAYMENT_GATEWAY must be %q or %q", GatewayRazorpay, GatewayStub)
	}
	if cfg.EventsEnabled && cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required when EVENTS_ENABLED is set")
	}

	return cfg, nil
}

// describeInvalid names every offending field and the rule it broke.
func describeInvalid(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fe.Field()+" ("+rule+")")
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(parts, ", "))
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.AppEnv))
	return env == "production" || env == "prod"
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
