package pricing

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/voucher"
)

// Money represents a monetary value in whole currency units.
type Money = int64

// MaxQuantity is the largest count accepted for a single ticket type.
const MaxQuantity = 50

var (
	// ErrMissingItems is returned when the request carries no cart object at all.
	ErrMissingItems = errors.New("missing items")
	// ErrInvalidQuantity is returned when any quantity is negative or above MaxQuantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrUnknownTicketType is returned when a non-zero entry names no catalog ticket.
	ErrUnknownTicketType = errors.New("invalid ticket type")
	// ErrEmptyCart is returned when the computed subtotal is not positive.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidCoupon is returned in strict mode for an unknown coupon code.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrNotConfigured is returned when the engine has no price catalog.
	ErrNotConfigured = errors.New("pricing engine not configured")
)

// InvalidCouponMessage annotates a lenient quote whose coupon did not resolve.
const InvalidCouponMessage = "Invalid coupon code"

// Cart maps ticket types to requested quantities.
type Cart map[catalog.TicketType]Quantity

// Policy selects how an unknown coupon code is treated.
type Policy int

const (
	// Strict fails the quote on an unknown coupon. Used when creating chargeable orders.
	Strict Policy = iota
	// Lenient returns a zero-discount quote annotated with a message. Used for previews.
	Lenient
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	default:
		return "unknown"
	}
}

// AppliedCoupon describes how a coupon code resolved.
type AppliedCoupon struct {
	Code     string `json:"code"`
	Percent  int64  `json:"pct"`
	Cap      Money  `json:"cap"`
	Discount Money  `json:"-"`
	Message  string `json:"message"`
}

// Quote is the priced breakdown of a cart.
type Quote struct {
	Subtotal Money         `json:"subtotal"`
	Discount Money         `json:"discount"`
	Total    Money         `json:"total"`
	Coupon   AppliedCoupon `json:"coupon"`
}

// Engine prices carts against immutable ticket and coupon catalogs.
type Engine struct {
	Prices  *catalog.Catalog
	Coupons *voucher.Catalog
}

// Price quotes in strict mode.
func (e *Engine) Price(cart Cart, couponCode string) (Quote, error) {
	return e.Quote(cart, couponCode, Strict)
}

// Preview quotes in lenient mode.
func (e *Engine) Preview(cart Cart, couponCode string) (Quote, error) {
	return e.Quote(cart, couponCode, Lenient)
}

// Quote computes subtotal, discount and total for the cart.
func (e *Engine) Quote(cart Cart, couponCode string, policy Policy) (Quote, error) {
	if e == nil || e.Prices == nil {
		return Quote{}, ErrNotConfigured
	}
	subtotal, err := e.Subtotal(cart)
	if err != nil {
		return Quote{}, err
	}
	if subtotal <= 0 {
		return Quote{}, ErrEmptyCart
	}
	coupon, err := e.resolveCoupon(subtotal, couponCode, policy)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Subtotal: subtotal,
		Discount: coupon.Discount,
		Total:    subtotal - coupon.Discount,
		Coupon:   coupon,
	}, nil
}

// Subtotal sums unit price times quantity over the cart.
//
// Every quantity is range-checked before any ticket type is looked up, so an
// out-of-range quantity rejects regardless of which key carries it.
func (e *Engine) Subtotal(cart Cart) (Money, error) {
	for _, qty := range cart {
		if qty < 0 || qty > MaxQuantity {
			return 0, ErrInvalidQuantity
		}
	}
	var subtotal Money
	for ticket, qty := range cart {
		if qty == 0 {
			continue
		}
		price, ok := e.Prices.Price(ticket)
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownTicketType, ticket)
		}
		subtotal += price * Money(qty)
	}
	return subtotal, nil
}

func (e *Engine) resolveCoupon(subtotal Money, raw string, policy Policy) (AppliedCoupon, error) {
	code := voucher.NormalizeCode(raw)
	if code == "" {
		return AppliedCoupon{}, nil
	}
	rule, ok := e.Coupons.Lookup(code)
	if !ok {
		if policy == Lenient {
			return AppliedCoupon{Code: code, Message: InvalidCouponMessage}, nil
		}
		return AppliedCoupon{}, ErrInvalidCoupon
	}
	return AppliedCoupon{
		Code:     rule.Code,
		Percent:  rule.Percent,
		Cap:      rule.Cap,
		Discount: voucher.Compute(subtotal, rule),
		Message:  fmt.Sprintf("Applied %s: %d%% off (max %s%d)", rule.Code, rule.Percent, e.Prices.Symbol(), rule.Cap),
	}, nil
}
