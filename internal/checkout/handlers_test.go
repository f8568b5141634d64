package checkout_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tiket/internal/checkout"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/resilience"
)

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func serve(t *testing.T, handler http.HandlerFunc, path, body string) (*httptest.ResponseRecorder, errorEnvelope) {
	t.Helper()
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	var env errorEnvelope
	if rr.Code != http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func TestQuoteHandler(t *testing.T) {
	h := &checkout.Handler{Svc: newService(nil)}

	rr, _ := serve(t, h.Quote, "/api/v1/quote", `{"items":{"WORKING_STAY":1,"STUDENT_CONF":0},"couponCode":"ZERO20"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"subtotal":4500,"discount":900,"total":3600,"coupon":{"code":"ZERO20","pct":20,"cap":2000,"message":"Applied ZERO20: 20% off (max ₹2000)"}}`, rr.Body.String())

	rr, _ = serve(t, h.Quote, "/api/v1/quote", `{"items":{"STUDENT_CONF":"2"},"couponCode":"bogus"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"subtotal":3000,"discount":0,"total":3000,"coupon":{"code":"BOGUS","pct":0,"cap":0,"message":"Invalid coupon code"}}`, rr.Body.String())
}

func TestQuoteHandlerTreatsOversizeCouponAsUnknown(t *testing.T) {
	h := &checkout.Handler{Svc: newService(nil)}
	code := strings.Repeat("X", 65)

	rr, _ := serve(t, h.Quote, "/api/quote", fmt.Sprintf(`{"items":{"STUDENT_CONF":2},"couponCode":%q}`, code))
	require.Equal(t, http.StatusOK, rr.Code)

	var q struct {
		Subtotal int64 `json:"subtotal"`
		Discount int64 `json:"discount"`
		Total    int64 `json:"total"`
		Coupon   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"coupon"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &q))
	require.Equal(t, int64(3000), q.Subtotal)
	require.Zero(t, q.Discount)
	require.Equal(t, int64(3000), q.Total)
	require.Equal(t, code, q.Coupon.Code)
	require.Equal(t, "Invalid coupon code", q.Coupon.Message)
}

func TestQuoteHandlerRejections(t *testing.T) {
	h := &checkout.Handler{Svc: newService(nil)}
	cases := []struct {
		body    string
		code    string
		message string
	}{
		{`{}`, "VALIDATION_ERROR", "Missing items"},
		{``, "VALIDATION_ERROR", "Missing items"},
		{`{"items":null}`, "VALIDATION_ERROR", "Missing items"},
		{`{"items":"STUDENT_CONF"}`, "VALIDATION_ERROR", "Missing items"},
		{`{"items":{}}`, "VALIDATION_ERROR", "Please select at least one pass"},
		{`{"items":{"STUDENT_CONF":0}}`, "VALIDATION_ERROR", "Please select at least one pass"},
		{`{"items":[]}`, "VALIDATION_ERROR", "Please select at least one pass"},
		{`{"items":[1]}`, "VALIDATION_ERROR", "Invalid ticket type"},
		{`{"items":{"STUDENT_CONF":51}}`, "VALIDATION_ERROR", "Invalid quantity"},
		{`{"items":{"VIP":51}}`, "VALIDATION_ERROR", "Invalid quantity"},
		{`{"items":{"VIP":1}}`, "VALIDATION_ERROR", "Invalid ticket type"},
		{`{"items":`, "BAD_REQUEST", "Invalid request body"},
	}
	for _, tc := range cases {
		rr, env := serve(t, h.Quote, "/api/v1/quote", tc.body)
		require.Equal(t, http.StatusBadRequest, rr.Code, tc.body)
		require.Equal(t, tc.code, env.Error.Code, tc.body)
		require.Equal(t, tc.message, env.Error.Message, tc.body)
	}
}

func TestCreateOrderHandler(t *testing.T) {
	gw := &fakeGateway{}
	h := &checkout.Handler{Svc: newService(gw)}

	rr, _ := serve(t, h.CreateOrder, "/api/v1/orders", `{"items":{"STUDENT_CONF":2},"buyer":{"name":"Asha","phone":"+91 90000 00000"}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"keyId":"rzp_test_key","orderId":"order_TEST1","amount":3000,"currency":"INR","breakdown":{"subtotal":3000,"discount":0,"total":3000}}`, rr.Body.String())
	require.Len(t, gw.requests, 1)
	require.Equal(t, int64(300000), gw.requests[0].Amount)
	require.Equal(t, `{"STUDENT_CONF":2}`, gw.requests[0].Notes["items"])
	require.Equal(t, "+91 90000 00000", gw.requests[0].Notes["buyerPhone"])
}

func TestCreateOrderHandlerErrors(t *testing.T) {
	cases := []struct {
		name    string
		gwErr   error
		body    string
		status  int
		code    string
		message string
	}{
		{"strict coupon", nil, `{"items":{"STUDENT_CONF":1},"couponCode":"nope"}`, http.StatusBadRequest, "INVALID_COUPON", "Invalid coupon code"},
		{"gateway description", &payment.GatewayError{Status: 400, Description: "The amount must be atleast INR 1.00"}, `{"items":{"STUDENT_CONF":1}}`, http.StatusBadGateway, "GATEWAY_ERROR", "The amount must be atleast INR 1.00"},
		{"breaker open", resilience.ErrOpenCircuit, `{"items":{"STUDENT_CONF":1}}`, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", ""},
		{"timeout", context.DeadlineExceeded, `{"items":{"STUDENT_CONF":1}}`, http.StatusGatewayTimeout, "GATEWAY_TIMEOUT", ""},
		{"transport", fmt.Errorf("dial tcp 10.1.2.3:443: connection refused"), `{"items":{"STUDENT_CONF":1}}`, http.StatusBadGateway, "GATEWAY_ERROR", "Could not create order"},
		{"not configured", payment.ErrGatewayNotConfigured, `{"items":{"STUDENT_CONF":1}}`, http.StatusInternalServerError, "INTERNAL", "Something went wrong"},
		{"oversize coupon", nil, fmt.Sprintf(`{"items":{"STUDENT_CONF":1},"couponCode":%q}`, strings.Repeat("Z", 65)), http.StatusBadRequest, "INVALID_COUPON", "Invalid coupon code"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &checkout.Handler{Svc: newService(&fakeGateway{err: tc.gwErr})}
			rr, env := serve(t, h.CreateOrder, "/api/v1/orders", tc.body)
			require.Equal(t, tc.status, rr.Code)
			require.Equal(t, tc.code, env.Error.Code)
			if tc.message != "" {
				require.Equal(t, tc.message, env.Error.Message)
			}
			require.NotContains(t, env.Error.Message, "10.1.2.3")
		})
	}
}

func TestCreateOrderHandlerClipsLongBuyerFields(t *testing.T) {
	gw := &fakeGateway{}
	h := &checkout.Handler{Svc: newService(gw)}
	name := strings.Repeat("é", 300)
	body := fmt.Sprintf(`{"items":{"STUDENT_CONF":1},"buyer":{"name":%q,"email":"  asha@example.com  "}}`, name)

	rr, _ := serve(t, h.CreateOrder, "/api/v1/orders", body)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, gw.requests, 1)
	notes := gw.requests[0].Notes
	require.Equal(t, strings.Repeat("é", 256), notes["buyerName"])
	require.Equal(t, "asha@example.com", notes["buyerEmail"])
}
