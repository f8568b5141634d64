package payment_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/events"
	"github.com/noah-isme/backend-tiket/internal/payment"
)

const capturedBody = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":360000,"currency":"INR","status":"captured","email":"asha@example.com"}}}}`

func webhookRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment/razorpay", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(payment.SignatureHeader, common.HmacSHA256Hex(secret, []byte(body)))
	}
	return req
}

func TestWebhookPublishesAndRejectsReplay(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	queue := &captureEnqueuer{}
	h := payment.Webhook{
		Verifier:  payment.Razorpay{WebhookSecret: "whsec"},
		Replay:    client,
		ReplayTTL: time.Hour,
		Events:    &events.Bus{Client: queue},
	}

	rr := httptest.NewRecorder()
	h.Handle(rr, webhookRequest(capturedBody, "whsec"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Len(t, queue.tasks, 1)
	ev, err := events.Decode(queue.tasks[0])
	require.NoError(t, err)
	require.Equal(t, events.TopicPaymentCaptured, ev.Topic)
	require.Equal(t, "order_1", ev.AggregateID)

	rr = httptest.NewRecorder()
	h.Handle(rr, webhookRequest(capturedBody, "whsec"))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Len(t, queue.tasks, 1)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	h := payment.Webhook{Verifier: payment.Razorpay{WebhookSecret: "whsec"}}

	rr := httptest.NewRecorder()
	h.Handle(rr, webhookRequest(capturedBody, "wrong"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "SIGNATURE_MISMATCH")

	rr = httptest.NewRecorder()
	h.Handle(rr, webhookRequest(capturedBody, ""))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookIgnoresUnhandledEvents(t *testing.T) {
	queue := &captureEnqueuer{}
	h := payment.Webhook{Verifier: payment.Razorpay{WebhookSecret: "whsec"}, Events: &events.Bus{Client: queue}}
	body := `{"event":"refund.created","payload":{}}`

	rr := httptest.NewRecorder()
	h.Handle(rr, webhookRequest(body, "whsec"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, queue.tasks)
}

func TestWebhookDisabledWithoutSecret(t *testing.T) {
	rr := httptest.NewRecorder()
	payment.Webhook{}.Handle(rr, webhookRequest(capturedBody, "whsec"))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	payment.Webhook{Verifier: payment.Razorpay{}}.Handle(rr, webhookRequest(capturedBody, "whsec"))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
