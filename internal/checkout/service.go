package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-tiket/internal/events"
	"github.com/noah-isme/backend-tiket/internal/obs"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/pricing"
)

// DefaultReceiptPrefix leads every receipt handed to the gateway.
const DefaultReceiptPrefix = "zero26"

// minorUnitsPerUnit converts whole currency units into the gateway's sub-unit.
const minorUnitsPerUnit = 100

var (
	// ErrNonPositiveTotal is returned when a strict quote leaves nothing to charge.
	ErrNonPositiveTotal = errors.New("order total must be positive")
	// ErrGateway marks failures of the remote order call.
	ErrGateway = errors.New("payment gateway request failed")
	// ErrNotConfigured is returned when the service lacks its pricing engine or gateway.
	ErrNotConfigured = errors.New("checkout service not configured")
)

// maxNoteLen is the gateway's limit on a single order note value.
const maxNoteLen = 256

// Buyer carries optional contact details forwarded to the gateway as notes.
// Any value is accepted; oversize values are clipped rather than rejected.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (b Buyer) clipped() Buyer {
	return Buyer{Name: clipNote(b.Name), Email: clipNote(b.Email), Phone: clipNote(b.Phone)}
}

// clipNote trims v and cuts it to maxNoteLen runes.
func clipNote(v string) string {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) <= maxNoteLen {
		return v
	}
	return string([]rune(v)[:maxNoteLen])
}

// QuoteInput is a live preview request.
type QuoteInput struct {
	Items      pricing.Cart
	CouponCode string
}

// OrderInput is a chargeable order request. RawItems is the cart exactly as the
// client sent it and is echoed into the gateway notes.
type OrderInput struct {
	Items      pricing.Cart
	RawItems   json.RawMessage
	CouponCode string
	Buyer      Buyer
}

// Breakdown mirrors the quote amounts in whole currency units.
type Breakdown struct {
	Subtotal pricing.Money `json:"subtotal"`
	Discount pricing.Money `json:"discount"`
	Total    pricing.Money `json:"total"`
}

// OrderOutput is what the browser needs to open the gateway checkout widget.
type OrderOutput struct {
	KeyID     string        `json:"keyId"`
	OrderID   string        `json:"orderId"`
	Amount    pricing.Money `json:"amount"`
	Currency  string        `json:"currency"`
	Breakdown Breakdown     `json:"breakdown"`
}

// Service prices carts and opens gateway orders. It keeps no local order state.
type Service struct {
	Engine        *pricing.Engine
	Gateway       payment.Gateway
	Currency      string
	KeyID         string
	ReceiptPrefix string
	Now           func() time.Time
	Events        *events.Bus
	Logger        zerolog.Logger
}

// Quote prices the cart in lenient mode: an unknown coupon yields a zero
// discount and an annotation instead of an error.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (pricing.Quote, error) {
	if s == nil || s.Engine == nil {
		return pricing.Quote{}, ErrNotConfigured
	}
	_, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout.Quote")
	defer span.End()

	q, err := s.Engine.Preview(in.Items, in.CouponCode)
	if err != nil {
		obs.Inc(obs.QuoteTotal, pricing.Lenient.String(), "rejected")
		span.SetAttributes(attribute.String("quote.result", "rejected"))
		return pricing.Quote{}, err
	}
	obs.Inc(obs.QuoteTotal, pricing.Lenient.String(), "ok")
	span.SetAttributes(
		attribute.Int64("quote.subtotal", q.Subtotal),
		attribute.Int64("quote.discount", q.Discount),
		attribute.String("quote.coupon", q.Coupon.Code),
	)
	return q, nil
}

// Create prices the cart in strict mode and opens a gateway order for the total.
// Nothing is recorded locally; a failure at any step leaves no partial order.
func (s *Service) Create(ctx context.Context, in OrderInput) (out OrderOutput, err error) {
	if s == nil || s.Engine == nil || s.Gateway == nil {
		return OrderOutput{}, ErrNotConfigured
	}
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "Checkout.Create")
	defer span.End()
	result := "error"
	defer func() {
		obs.Inc(obs.OrderCreateTotal, result)
		span.SetAttributes(attribute.String("order.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
	}()

	q, err := s.Engine.Price(in.Items, in.CouponCode)
	if err != nil {
		result = "rejected"
		obs.Inc(obs.QuoteTotal, pricing.Strict.String(), "rejected")
		return OrderOutput{}, err
	}
	obs.Inc(obs.QuoteTotal, pricing.Strict.String(), "ok")
	if q.Total <= 0 {
		result = "rejected"
		return OrderOutput{}, ErrNonPositiveTotal
	}

	currency := s.currency()
	receipt := s.newReceipt()
	buyer := in.Buyer.clipped()
	req := payment.OrderRequest{
		Amount:   q.Total * minorUnitsPerUnit,
		Currency: currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"items":      clipNote(itemsNote(in)),
			"couponCode": q.Coupon.Code,
			"subtotal":   strconv.FormatInt(q.Subtotal, 10),
			"discount":   strconv.FormatInt(q.Discount, 10),
			"buyerName":  buyer.Name,
			"buyerEmail": buyer.Email,
			"buyerPhone": buyer.Phone,
		},
	}
	span.SetAttributes(attribute.String("order.receipt", receipt), attribute.Int64("order.total", q.Total))

	order, err := s.Gateway.CreateOrder(ctx, req)
	if err != nil {
		result = "gateway_error"
		s.Logger.Error().Err(err).Str("receipt", receipt).Int64("amount", req.Amount).Msg("checkout_gateway_order_failed")
		return OrderOutput{}, fmt.Errorf("%w: %w", ErrGateway, err)
	}
	result = "ok"
	s.Logger.Info().Str("order_id", order.ID).Str("receipt", receipt).Int64("total", q.Total).Msg("checkout_order_created")

	s.emitCreated(ctx, order.ID, receipt, q, buyer)
	return OrderOutput{
		KeyID:    s.KeyID,
		OrderID:  order.ID,
		Amount:   q.Total,
		Currency: currency,
		Breakdown: Breakdown{
			Subtotal: q.Subtotal,
			Discount: q.Discount,
			Total:    q.Total,
		},
	}, nil
}

func (s *Service) emitCreated(ctx context.Context, orderID, receipt string, q pricing.Quote, buyer Buyer) {
	if s.Events == nil {
		return
	}
	payload := map[string]any{
		"orderId":    orderID,
		"receipt":    receipt,
		"subtotal":   q.Subtotal,
		"discount":   q.Discount,
		"total":      q.Total,
		"couponCode": q.Coupon.Code,
		"buyerName":  buyer.Name,
		"buyerEmail": buyer.Email,
	}
	if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, orderID, payload); err != nil {
		s.Logger.Warn().Err(err).Str("order_id", orderID).Msg("checkout_event_dropped")
	}
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.Currency); c != "" {
		return strings.ToUpper(c)
	}
	if s.Engine != nil && s.Engine.Prices != nil {
		return s.Engine.Prices.Currency()
	}
	return "INR"
}

// newReceipt builds <prefix>_<unix millis>_<8 hex>. Uniqueness is best effort;
// the gateway is the authority on duplicates.
func (s *Service) newReceipt() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	prefix := strings.TrimSpace(s.ReceiptPrefix)
	if prefix == "" {
		prefix = DefaultReceiptPrefix
	}
	id := uuid.New()
	return fmt.Sprintf("%s_%d_%x", prefix, now().UnixMilli(), id[:4])
}

func itemsNote(in OrderInput) string {
	if len(in.RawItems) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, in.RawItems); err == nil {
			return buf.String()
		}
	}
	data, err := json.Marshal(in.Items)
	if err != nil {
		return "{}"
	}
	return string(data)
}
