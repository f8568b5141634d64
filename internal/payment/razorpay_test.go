package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/resilience"
)

func newRazorpay(baseURL string) payment.Razorpay {
	return payment.Razorpay{
		KeyID:     "rzp_test_key",
		KeySecret: "rzp_test_secret",
		BaseURL:   baseURL,
		HTTP:      payment.NewRazorpayHTTP(nil, time.Second, nil),
	}
}

func TestRazorpayCreateOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "rzp_test_key", user)
		require.Equal(t, "rzp_test_secret", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.EqualValues(t, 360000, body["amount"])
		require.Equal(t, "INR", body["currency"])
		require.Equal(t, "zero26_1_abcd1234", body["receipt"])
		require.Equal(t, map[string]any{"couponCode": "ZERO20"}, body["notes"])

		common.JSON(w, http.StatusOK, map[string]any{
			"id":       "order_RZP123",
			"entity":   "order",
			"amount":   360000,
			"currency": "INR",
			"receipt":  "zero26_1_abcd1234",
			"status":   "created",
		})
	}))
	defer srv.Close()

	resp, err := newRazorpay(srv.URL).CreateOrder(context.Background(), payment.OrderRequest{
		Amount:   360000,
		Currency: "INR",
		Receipt:  "zero26_1_abcd1234",
		Notes:    map[string]string{"couponCode": "ZERO20"},
	})
	require.NoError(t, err)
	require.Equal(t, "order_RZP123", resp.ID)
	require.Equal(t, int64(360000), resp.Amount)
	require.Equal(t, "created", resp.Status)
}

func TestRazorpaySurfacesGatewayDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		common.JSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"code":        "BAD_REQUEST_ERROR",
				"description": "Order amount less than minimum amount allowed",
			},
		})
	}))
	defer srv.Close()

	_, err := newRazorpay(srv.URL).CreateOrder(context.Background(), payment.OrderRequest{Amount: 1, Currency: "INR", Receipt: "r"})
	var gwErr *payment.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, http.StatusBadRequest, gwErr.Status)
	require.Equal(t, "BAD_REQUEST_ERROR", gwErr.Code)
	require.Equal(t, "Order amount less than minimum amount allowed", err.Error())
}

func TestRazorpayServerErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newRazorpay(srv.URL).CreateOrder(context.Background(), payment.OrderRequest{Amount: 100, Currency: "INR", Receipt: "r"})
	var gwErr *payment.GatewayError
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, http.StatusBadGateway, gwErr.Status)
	require.Equal(t, 1, calls)
}

func TestRazorpayOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := newRazorpay(srv.URL)
	gw.HTTP = payment.NewRazorpayHTTP(resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("razorpay_test"), time.Second, nil)
	req := payment.OrderRequest{Amount: 100, Currency: "INR", Receipt: "r"}

	_, err := gw.CreateOrder(context.Background(), req)
	require.Error(t, err)
	_, err = gw.CreateOrder(context.Background(), req)
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestRazorpayRequiresCredentials(t *testing.T) {
	_, err := payment.Razorpay{}.CreateOrder(context.Background(), payment.OrderRequest{Amount: 100})
	require.ErrorIs(t, err, payment.ErrGatewayNotConfigured)
}

func TestStubGatewayIsDeterministic(t *testing.T) {
	req := payment.OrderRequest{Amount: 300000, Currency: "INR", Receipt: "zero26_1_deadbeef"}
	a, err := payment.Stub{}.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	b, err := payment.Stub{}.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, a.ID, b.ID)
	require.Len(t, a.ID, len("order_")+14)
	require.Equal(t, int64(300000), a.Amount)

	_, err = payment.Stub{}.CreateOrder(context.Background(), payment.OrderRequest{Amount: 0, Receipt: "r"})
	require.Error(t, err)
}

func TestVerifyWebhook(t *testing.T) {
	gw := payment.Razorpay{WebhookSecret: "whsec"}
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1","order_id":"order_1","amount":360000,"currency":"INR","status":"captured","email":"asha@example.com"}}}}`)

	ev, err := gw.VerifyWebhook(common.HmacSHA256Hex("whsec", body), body)
	require.NoError(t, err)
	require.Equal(t, "payment.captured", ev.Event)
	require.Equal(t, "order_1", ev.OrderID)
	require.Equal(t, "pay_1", ev.PaymentID)
	require.Equal(t, int64(360000), ev.Amount)
	require.Equal(t, "asha@example.com", ev.Email)

	_, err = gw.VerifyWebhook(common.HmacSHA256Hex("other", body), body)
	require.ErrorIs(t, err, payment.ErrWebhookSignature)
	_, err = gw.VerifyWebhook("", body)
	require.ErrorIs(t, err, payment.ErrWebhookSignature)
	_, err = payment.Razorpay{}.VerifyWebhook("x", body)
	require.ErrorIs(t, err, payment.ErrWebhookNotConfigured)
}
