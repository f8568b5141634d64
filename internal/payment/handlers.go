package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/events"
	"github.com/noah-isme/backend-tiket/internal/obs"
)

// Handler exposes the payment assertion endpoint used after the checkout widget completes.
type Handler struct {
	Verifier Verifier
	Events   *events.Bus
	Logger   zerolog.Logger
}

// verifyReq accepts both the camelCase shape and the field names the gateway
// widget returns to the browser. Field lengths are not checked: anything that is
// not the exact signature is a mismatch.
type verifyReq struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`

	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (v verifyReq) fields() (orderID, paymentID, signature string) {
	orderID, paymentID, signature = v.OrderID, v.PaymentID, v.Signature
	if orderID == "" {
		orderID = v.RazorpayOrderID
	}
	if paymentID == "" {
		paymentID = v.RazorpayPaymentID
	}
	if signature == "" {
		signature = v.RazorpaySignature
	}
	return orderID, paymentID, signature
}

// Verify checks a payment assertion and answers {ok:true} when it is authentic.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("payment.Handler").Start(r.Context(), "Payment.Verify")
	defer span.End()
	logger := obs.LoggerFrom(ctx, h.Logger)

	var req verifyReq
	if err := common.DecodeJSON(r, &req); err != nil && !errors.Is(err, common.ErrEmptyBody) {
		obs.Inc(obs.PaymentVerifyTotal, "bad_request")
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return
	}
	orderID, paymentID, signature := req.fields()
	obs.Annotate(ctx, "order_id", orderID)
	span.SetAttributes(attribute.String("payment.order_id", orderID), attribute.String("payment.id", paymentID))

	outcome, err := h.Verifier.Verify(orderID, paymentID, signature)
	switch {
	case errors.Is(err, ErrMissingField):
		obs.Inc(obs.PaymentVerifyTotal, "missing_fields")
		common.JSONError(w, http.StatusBadRequest, "MISSING_FIELDS", "Missing payment fields", nil)
		return
	case err != nil:
		obs.Inc(obs.PaymentVerifyTotal, "error")
		logger.Error().Err(err).Msg("payment_verify_failed")
		common.WriteError(w, err)
		return
	case outcome != Accepted:
		obs.Inc(obs.PaymentVerifyTotal, "rejected")
		obs.Annotate(ctx, "verify_outcome", outcome.String())
		span.SetAttributes(attribute.String("payment.verify.outcome", outcome.String()))
		logger.Warn().Str("order_id", orderID).Str("payment_id", paymentID).Msg("payment_signature_rejected")
		common.JSONError(w, http.StatusBadRequest, "SIGNATURE_MISMATCH", "Signature verification failed", nil)
		return
	}

	obs.Inc(obs.PaymentVerifyTotal, "accepted")
	obs.Annotate(ctx, "verify_outcome", outcome.String())
	span.SetAttributes(attribute.String("payment.verify.outcome", outcome.String()))
	h.emit(ctx, events.TopicPaymentVerified, orderID, map[string]any{
		"orderId":   orderID,
		"paymentId": paymentID,
	})
	common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) emit(ctx context.Context, topic, orderID string, payload map[string]any) {
	if h.Events == nil {
		return
	}
	if _, err := h.Events.Emit(ctx, topic, orderID, payload); err != nil {
		h.Logger.Warn().Err(err).Str("topic", topic).Str("order_id", orderID).Msg("payment_event_dropped")
	}
}
