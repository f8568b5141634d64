package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/common"
	"github.com/noah-isme/backend-tiket/internal/obs"
	"github.com/noah-isme/backend-tiket/internal/payment"
	"github.com/noah-isme/backend-tiket/internal/pricing"
	"github.com/noah-isme/backend-tiket/internal/resilience"
)

type Handler struct {
	Svc *Service
}

// Coupon codes are not length checked; an oversize code is just an unknown one.
type quoteReq struct {
	Items      json.RawMessage `json:"items"`
	CouponCode string          `json:"couponCode"`
}

type orderReq struct {
	Items      json.RawMessage `json:"items"`
	CouponCode string          `json:"couponCode"`
	Buyer      Buyer           `json:"buyer"`
}

// Quote answers a live price preview.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req quoteReq
	if !decodeRequest(w, r, &req) {
		return
	}
	cart, err := parseItems(req.Items)
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	q, err := h.Svc.Quote(r.Context(), QuoteInput{Items: cart, CouponCode: req.CouponCode})
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	obs.Annotate(r.Context(), "coupon", q.Coupon.Code)
	common.JSON(w, http.StatusOK, q)
}

// CreateOrder prices the cart strictly and opens a gateway order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req orderReq
	if !decodeRequest(w, r, &req) {
		return
	}
	cart, err := parseItems(req.Items)
	if err != nil {
		obs.Inc(obs.OrderCreateTotal, "rejected")
		h.fail(r.Context(), w, err)
		return
	}
	out, err := h.Svc.Create(r.Context(), OrderInput{
		Items:      cart,
		RawItems:   req.Items,
		CouponCode: req.CouponCode,
		Buyer:      req.Buyer,
	})
	if err != nil {
		h.fail(r.Context(), w, err)
		return
	}
	obs.Annotate(r.Context(), "order_id", out.OrderID)
	common.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	appErr := toAppError(err)
	obs.Annotate(ctx, "error_code", appErr.Code)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		obs.LoggerFrom(ctx, h.Svc.Logger).Error().Err(err).Str("code", appErr.Code).Msg("checkout_request_failed")
	}
	common.WriteError(w, appErr)
}

// decodeRequest reads the JSON body. An empty body decodes as an empty request so
// the missing cart is reported the same way as an absent items field.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := common.DecodeJSON(r, v); err != nil && !errors.Is(err, common.ErrEmptyBody) {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body", nil)
		return false
	}
	return true
}

// parseItems accepts any JSON object as a cart. Arrays are keyed by index, which
// can only ever resolve to unknown ticket types or an empty cart.
func parseItems(raw json.RawMessage) (pricing.Cart, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, pricing.ErrMissingItems
	}
	switch raw[0] {
	case '{':
		var cart pricing.Cart
		if err := json.Unmarshal(raw, &cart); err != nil {
			return nil, pricing.ErrMissingItems
		}
		return cart, nil
	case '[':
		var list []pricing.Quantity
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, pricing.ErrMissingItems
		}
		cart := make(pricing.Cart, len(list))
		for i, qty := range list {
			cart[catalog.TicketType(strconv.Itoa(i))] = qty
		}
		return cart, nil
	default:
		return nil, pricing.ErrMissingItems
	}
}

func toAppError(err error) *common.AppError {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, pricing.ErrMissingItems):
		return common.NewAppError("VALIDATION_ERROR", "Missing items", http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrInvalidQuantity):
		return common.NewAppError("VALIDATION_ERROR", "Invalid quantity", http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrUnknownTicketType):
		return common.NewAppError("VALIDATION_ERROR", "Invalid ticket type", http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrEmptyCart):
		return common.NewAppError("VALIDATION_ERROR", "Please select at least one pass", http.StatusBadRequest, err)
	case errors.Is(err, ErrNonPositiveTotal):
		return common.NewAppError("VALIDATION_ERROR", "Order total must be positive", http.StatusBadRequest, err)
	case errors.Is(err, pricing.ErrInvalidCoupon):
		return common.NewAppError("INVALID_COUPON", "Invalid coupon code", http.StatusBadRequest, err)
	case errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, please retry shortly", http.StatusServiceUnavailable, err)
	case isTimeout(err):
		return common.NewAppError("GATEWAY_TIMEOUT", "Payment gateway timed out, please retry", http.StatusGatewayTimeout, err)
	case errors.As(err, &gwErr):
		return common.NewAppError("GATEWAY_ERROR", gwErr.Error(), http.StatusBadGateway, err)
	case errors.Is(err, ErrGateway) && !errors.Is(err, payment.ErrGatewayNotConfigured):
		return common.NewAppError("GATEWAY_ERROR", "Could not create order", http.StatusBadGateway, err)
	default:
		return common.NewAppError("INTERNAL", "Something went wrong", http.StatusInternalServerError, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
