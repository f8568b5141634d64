package payment

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/events"
	"github.com/noah-isme/backend-tiket/internal/obs"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Razorpay-Signature"

// WebhookVerifier validates and decodes gateway webhooks. Razorpay satisfies it.
type WebhookVerifier interface {
	VerifyWebhook(signature string, body []byte) (WebhookEvent, error)
}

// Webhook handles server-to-server payment notifications from the gateway.
type Webhook struct {
	Verifier  WebhookVerifier
	Replay    *redis.Client
	ReplayTTL time.Duration
	Events    *events.Bus
	Logger    zerolog.Logger
}

// Handle verifies the notification, drops replays and publishes the matching domain event.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		common.NotFound(w, r)
		return
	}
	ctx := r.Context()
	logger := obs.LoggerFrom(ctx, h.Logger)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		obs.Inc(obs.PaymentWebhookTotal, "unknown", "bad_request")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "Unable to read payload", nil)
		return
	}
	ev, err := h.Verifier.VerifyWebhook(r.Header.Get(SignatureHeader), body)
	switch {
	case errors.Is(err, ErrWebhookNotConfigured):
		common.NotFound(w, r)
		return
	case errors.Is(err, ErrWebhookSignature):
		obs.Inc(obs.PaymentWebhookTotal, "unknown", "signature_mismatch")
		logger.Warn().Msg("payment_webhook_signature_rejected")
		common.JSONError(w, http.StatusBadRequest, "SIGNATURE_MISMATCH", "Signature verification failed", nil)
		return
	case err != nil:
		obs.Inc(obs.PaymentWebhookTotal, "unknown", "invalid")
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", "Invalid webhook payload", nil)
		return
	}

	if h.Replay != nil && h.ReplayTTL > 0 {
		key := fmt.Sprintf("wh:razorpay:%s", common.Sha256Hex(string(body)))
		ok, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			logger.Error().Err(err).Msg("payment_webhook_replay_store_failed")
			common.JSONError(w, http.StatusServiceUnavailable, "REPLAY_STORE_UNAVAILABLE", "Please retry shortly", nil)
			return
		}
		if !ok {
			obs.Inc(obs.PaymentWebhookTotal, ev.Event, "replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "Duplicate webhook", nil)
			return
		}
	}

	topic, handled := webhookTopic(ev.Event)
	if !handled {
		obs.Inc(obs.PaymentWebhookTotal, "other", "ignored")
		logger.Debug().Str("event", ev.Event).Msg("payment_webhook_ignored")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if ev.OrderID == "" {
		obs.Inc(obs.PaymentWebhookTotal, ev.Event, "invalid")
		common.JSONError(w, http.StatusBadRequest, "INVALID_ORDER_ID", "Webhook carries no order id", nil)
		return
	}

	if h.Events != nil {
		payload := map[string]any{
			"orderId":   ev.OrderID,
			"paymentId": ev.PaymentID,
			"amount":    ev.Amount,
			"currency":  ev.Currency,
			"status":    ev.Status,
		}
		if ev.Email != "" {
			payload["email"] = ev.Email
		}
		if _, err := h.Events.Emit(ctx, topic, ev.OrderID, payload); err != nil {
			logger.Warn().Err(err).Str("topic", topic).Str("order_id", ev.OrderID).Msg("payment_event_dropped")
		}
	}
	obs.Inc(obs.PaymentWebhookTotal, ev.Event, "ok")
	logger.Info().Str("event", ev.Event).Str("order_id", ev.OrderID).Str("payment_id", ev.PaymentID).Msg("payment_webhook_processed")
	w.WriteHeader(http.StatusNoContent)
}

func webhookTopic(event string) (string, bool) {
	switch event {
	case "payment.captured":
		return events.TopicPaymentCaptured, true
	case "payment.failed":
		return events.TopicPaymentFailed, true
	case "order.paid":
		return events.TopicOrderPaid, true
	default:
		return "", false
	}
}
