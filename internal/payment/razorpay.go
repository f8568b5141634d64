package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/obs"
	"github.com/noah-isme/backend-tiket/internal/resilience"
)

// DefaultRazorpayBaseURL is the public Razorpay REST endpoint.
const DefaultRazorpayBaseURL = "https://api.razorpay.com"

// maxErrorBody bounds how much of an upstream error payload is read.
const maxErrorBody = 64 << 10

// Doer executes outbound requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Razorpay implements Gateway against the Razorpay Orders API and verifies its
// webhook notifications.
type Razorpay struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTP          Doer
	Logger        zerolog.Logger
}

// NewRazorpayHTTP builds the outbound client used for gateway calls: a single
// attempt guarded by the breaker, over an instrumented transport.
func NewRazorpayHTTP(breaker *resilience.Breaker, timeout time.Duration, logger *zerolog.Logger) resilience.HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resilience.HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breaker:     breaker,
		MaxAttempts: 1,
		Timeout:     timeout,
		Target:      "razorpay",
		Logger:      logger,
	}
}

var (
	meterOnce       sync.Once
	gatewayDuration metric.Float64Histogram
)

func gatewayHistogram() metric.Float64Histogram {
	meterOnce.Do(func() {
		h, err := otel.Meter("github.com/noah-isme/backend-tiket/internal/payment").Float64Histogram(
			"payment.gateway.duration",
			metric.WithUnit("ms"),
			metric.WithDescription("Duration of payment gateway calls."),
		)
		if err == nil {
			gatewayDuration = h
		}
	})
	return gatewayDuration
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type razorpayErrorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens a Razorpay order. The call is not retried.
func (r Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (resp OrderResponse, err error) {
	if strings.TrimSpace(r.KeyID) == "" || strings.TrimSpace(r.KeySecret) == "" {
		return OrderResponse{}, ErrGatewayNotConfigured
	}
	ctx, span := otel.Tracer("payment.Razorpay").Start(ctx, "Razorpay.CreateOrder")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.receipt", req.Receipt),
		attribute.Int64("payment.amount", req.Amount),
		attribute.String("payment.currency", req.Currency),
	)

	start := time.Now()
	result := "error"
	defer func() {
		elapsed := obs.DurationMillis(time.Since(start))
		if obs.GatewayLatency != nil {
			obs.GatewayLatency.WithLabelValues("create_order", result).Observe(elapsed)
		}
		if h := gatewayHistogram(); h != nil {
			h.Record(ctx, elapsed, metric.WithAttributes(
				attribute.String("operation", "create_order"),
				attribute.String("result", result),
			))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return OrderResponse{}, fmt.Errorf("razorpay: encode order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint("/v1/orders"), bytes.NewReader(payload))
	if err != nil {
		return OrderResponse{}, fmt.Errorf("razorpay: build request: %w", err)
	}
	httpReq.SetBasicAuth(r.KeyID, r.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := r.doer().Do(ctx, httpReq)
	if err != nil {
		r.Logger.Warn().Err(err).Str("receipt", req.Receipt).Msg("razorpay_create_order_failed")
		return OrderResponse{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		gwErr := decodeGatewayError(httpResp)
		result = "rejected"
		r.Logger.Warn().
			Int("status", gwErr.Status).
			Str("code", gwErr.Code).
			Str("receipt", req.Receipt).
			Msg("razorpay_create_order_rejected")
		return OrderResponse{}, gwErr
	}

	var order razorpayOrder
	if err := json.NewDecoder(httpResp.Body).Decode(&order); err != nil {
		return OrderResponse{}, fmt.Errorf("razorpay: decode order: %w", err)
	}
	if order.ID == "" {
		return OrderResponse{}, errors.New("razorpay: order id missing from response")
	}
	result = "ok"
	span.SetAttributes(attribute.String("payment.order_id", order.ID))
	return OrderResponse(order), nil
}

func decodeGatewayError(resp *http.Response) *GatewayError {
	gwErr := &GatewayError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env razorpayErrorEnvelope
	if err := json.Unmarshal(data, &env); err == nil {
		gwErr.Code = env.Error.Code
		gwErr.Description = env.Error.Description
	}
	return gwErr
}

func (r Razorpay) endpoint(path string) string {
	base := strings.TrimRight(strings.TrimSpace(r.BaseURL), "/")
	if base == "" {
		base = DefaultRazorpayBaseURL
	}
	return base + path
}

func (r Razorpay) doer() Doer {
	if r.HTTP != nil {
		return r.HTTP
	}
	return NewRazorpayHTTP(nil, 0, nil)
}

// WebhookEvent is the normalised view of a verified Razorpay webhook.
type WebhookEvent struct {
	Event     string
	OrderID   string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
	Email     string
	Contact   string
}

type razorpayWebhook struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
				Email    string `json:"email"`
				Contact  string `json:"contact"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID       string `json:"id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

var (
	// ErrWebhookNotConfigured is returned when no webhook secret is set.
	ErrWebhookNotConfigured = errors.New("payment webhook not configured")
	// ErrWebhookSignature is returned when the webhook signature does not match the body.
	ErrWebhookSignature = errors.New("webhook signature mismatch")
)

// VerifyWebhook checks the X-Razorpay-Signature header against the raw body and
// decodes the event.
func (r Razorpay) VerifyWebhook(signature string, body []byte) (WebhookEvent, error) {
	if r.WebhookSecret == "" {
		return WebhookEvent{}, ErrWebhookNotConfigured
	}
	signature = strings.TrimSpace(signature)
	if signature == "" || !common.EqualHex(common.HmacSHA256Hex(r.WebhookSecret, body), signature) {
		return WebhookEvent{}, ErrWebhookSignature
	}
	var hook razorpayWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return WebhookEvent{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	pay := hook.Payload.Payment.Entity
	ev := WebhookEvent{
		Event:     hook.Event,
		OrderID:   pay.OrderID,
		PaymentID: pay.ID,
		Amount:    pay.Amount,
		Currency:  pay.Currency,
		Status:    pay.Status,
		Email:     pay.Email,
		Contact:   pay.Contact,
	}
	if order := hook.Payload.Order.Entity; order.ID != "" {
		ev.OrderID = order.ID
		if ev.Amount == 0 {
			ev.Amount = order.Amount
		}
		if ev.Currency == "" {
			ev.Currency = order.Currency
		}
		if ev.Status == "" {
			ev.Status = order.Status
		}
	}
	return ev, nil
}
