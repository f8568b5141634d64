package pricing_test

import (
	"encoding/json"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-tiket/internal/catalog"
	"github.com/noah-isme/backend-tiket/internal/pricing"
	"github.com/noah-isme/backend-tiket/internal/voucher"
)

func newEngine() *pricing.Engine {
	return &pricing.Engine{
		Prices:  catalog.MustNew(catalog.DefaultPrices, "INR", "₹"),
		Coupons: voucher.MustNewCatalog(voucher.DefaultRules),
	}
}

func TestQuoteWithoutCoupon(t *testing.T) {
	q, err := newEngine().Price(pricing.Cart{catalog.StudentConf: 2}, "")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(3000), q.Subtotal)
	require.Equal(t, pricing.Money(0), q.Discount)
	require.Equal(t, pricing.Money(3000), q.Total)
	require.Equal(t, pricing.AppliedCoupon{}, q.Coupon)
}

func TestQuoteCouponBelowCap(t *testing.T) {
	q, err := newEngine().Price(pricing.Cart{catalog.WorkingStay: 1}, "ZERO20")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(4500), q.Subtotal)
	require.Equal(t, pricing.Money(900), q.Discount)
	require.Equal(t, pricing.Money(3600), q.Total)
	require.Equal(t, "ZERO20", q.Coupon.Code)
	require.Equal(t, int64(20), q.Coupon.Percent)
	require.Equal(t, pricing.Money(2000), q.Coupon.Cap)
	require.Equal(t, "Applied ZERO20: 20% off (max ₹2000)", q.Coupon.Message)
}

func TestQuoteCouponCapped(t *testing.T) {
	q, err := newEngine().Price(pricing.Cart{catalog.StudentStay: 10}, "zero10")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(40_000), q.Subtotal)
	require.Equal(t, pricing.Money(1000), q.Discount)
	require.Equal(t, pricing.Money(39_000), q.Total)
}

func TestQuoteMixedCart(t *testing.T) {
	cart := pricing.Cart{
		catalog.StudentConf: 1,
		catalog.WorkingConf: 2,
		catalog.StudentStay: 3,
		catalog.WorkingStay: 4,
	}
	q, err := newEngine().Preview(cart, "")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1500+2*2000+3*4000+4*4500), q.Subtotal)
	require.Equal(t, q.Subtotal, q.Total)
}

func TestQuoteEmptyCart(t *testing.T) {
	engine := newEngine()
	for _, policy := range []pricing.Policy{pricing.Strict, pricing.Lenient} {
		_, err := engine.Quote(pricing.Cart{}, "ZERO10", policy)
		require.ErrorIs(t, err, pricing.ErrEmptyCart)

		_, err = engine.Quote(pricing.Cart{catalog.StudentConf: 0, catalog.WorkingStay: 0}, "NOPE", policy)
		require.ErrorIs(t, err, pricing.ErrEmptyCart)

		_, err = engine.Quote(nil, "", policy)
		require.ErrorIs(t, err, pricing.ErrEmptyCart)
	}
}

func TestQuoteQuantityRange(t *testing.T) {
	engine := newEngine()
	_, err := engine.Price(pricing.Cart{catalog.StudentConf: 51}, "")
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = engine.Price(pricing.Cart{catalog.StudentConf: -1}, "")
	require.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	// Out of range wins over an unknown ticket type regardless of map order.
	for i := 0; i < 20; i++ {
		_, err = engine.Preview(pricing.Cart{"BOGUS": 1, catalog.StudentConf: 51}, "")
		require.ErrorIs(t, err, pricing.ErrInvalidQuantity)
		_, err = engine.Preview(pricing.Cart{"BOGUS": 99}, "")
		require.ErrorIs(t, err, pricing.ErrInvalidQuantity)
	}

	q, err := engine.Price(pricing.Cart{catalog.StudentConf: 50}, "")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(75_000), q.Subtotal)
}

func TestQuoteUnknownTicketType(t *testing.T) {
	engine := newEngine()
	_, err := engine.Price(pricing.Cart{"VIP": 1}, "")
	require.ErrorIs(t, err, pricing.ErrUnknownTicketType)

	// Zero quantities never require a catalog match.
	q, err := engine.Price(pricing.Cart{"VIP": 0, catalog.StudentConf: 1}, "")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1500), q.Subtotal)
}

func TestZeroQuantityEquivalentToOmission(t *testing.T) {
	engine := newEngine()
	withZero, err := engine.Price(pricing.Cart{catalog.WorkingConf: 3, catalog.StudentStay: 0}, "ZERO20")
	require.NoError(t, err)
	without, err := engine.Price(pricing.Cart{catalog.WorkingConf: 3}, "ZERO20")
	require.NoError(t, err)
	require.Equal(t, without, withZero)
}

func TestUnknownCouponStrictVersusLenient(t *testing.T) {
	engine := newEngine()
	cart := pricing.Cart{catalog.StudentConf: 1}

	_, err := engine.Price(cart, "bogus")
	require.ErrorIs(t, err, pricing.ErrInvalidCoupon)

	q, err := engine.Preview(cart, " bogus ")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(1500), q.Subtotal)
	require.Equal(t, pricing.Money(0), q.Discount)
	require.Equal(t, pricing.Money(1500), q.Total)
	require.Equal(t, "BOGUS", q.Coupon.Code)
	require.Equal(t, pricing.InvalidCouponMessage, q.Coupon.Message)
	require.Zero(t, q.Coupon.Percent)
	require.Zero(t, q.Coupon.Cap)
}

func TestBlankCouponIsNoCoupon(t *testing.T) {
	engine := newEngine()
	cart := pricing.Cart{catalog.StudentConf: 1}
	blank, err := engine.Price(cart, "   ")
	require.NoError(t, err)
	none, err := engine.Price(cart, "")
	require.NoError(t, err)
	require.Equal(t, none, blank)
	require.Empty(t, blank.Coupon.Message)
}

func TestZeroRuleEquivalentToNoCoupon(t *testing.T) {
	engine := &pricing.Engine{
		Prices:  catalog.MustNew(catalog.DefaultPrices, "INR", "₹"),
		Coupons: voucher.MustNewCatalog([]voucher.Rule{{Code: "NOTHING"}}),
	}
	cart := pricing.Cart{catalog.WorkingStay: 2}
	withRule, err := engine.Price(cart, "NOTHING")
	require.NoError(t, err)
	none, err := engine.Price(cart, "")
	require.NoError(t, err)
	require.Equal(t, none.Subtotal, withRule.Subtotal)
	require.Equal(t, none.Discount, withRule.Discount)
	require.Equal(t, none.Total, withRule.Total)
}

func TestQuoteInvariants(t *testing.T) {
	engine := newEngine()
	types := []catalog.TicketType{catalog.StudentConf, catalog.WorkingConf, catalog.StudentStay, catalog.WorkingStay}
	for _, code := range []string{"", "ZERO10", "ZERO20"} {
		for _, ticket := range types {
			for qty := pricing.Quantity(1); qty <= pricing.MaxQuantity; qty++ {
				q, err := engine.Price(pricing.Cart{ticket: qty}, code)
				require.NoError(t, err)
				price, _ := engine.Prices.Price(ticket)
				require.Equal(t, price*pricing.Money(qty), q.Subtotal)
				require.Equal(t, q.Subtotal-q.Discount, q.Total)
				require.LessOrEqual(t, q.Discount, q.Subtotal)
				if code != "" {
					require.LessOrEqual(t, q.Discount, q.Coupon.Cap)
				} else {
					require.Zero(t, q.Discount)
				}
				require.Positive(t, q.Total)
			}
		}
	}
}

func TestQuoteNotConfigured(t *testing.T) {
	var engine *pricing.Engine
	_, err := engine.Price(pricing.Cart{catalog.StudentConf: 1}, "")
	require.ErrorIs(t, err, pricing.ErrNotConfigured)
}

func TestQuoteJSONShape(t *testing.T) {
	q, err := newEngine().Preview(pricing.Cart{catalog.WorkingStay: 1}, "ZERO20")
	require.NoError(t, err)
	data, err := json.Marshal(q)
	require.NoError(t, err)
	require.JSONEq(t, `{"subtotal":4500,"discount":900,"total":3600,"coupon":{"code":"ZERO20","pct":20,"cap":2000,"message":"Applied ZERO20: 20% off (max ₹2000)"}}`, string(data))
}

func TestLargestCartStaysInRange(t *testing.T) {
	prices := make(map[catalog.TicketType]int64, catalog.MaxTicketTypes)
	cart := make(pricing.Cart, catalog.MaxTicketTypes)
	for i := 0; i < catalog.MaxTicketTypes; i++ {
		tt := catalog.TicketType("T" + strconv.Itoa(i))
		prices[tt] = catalog.MaxUnitPrice
		cart[tt] = pricing.MaxQuantity
	}
	engine := &pricing.Engine{
		Prices:  catalog.MustNew(prices, "INR", "₹"),
		Coupons: voucher.MustNewCatalog([]voucher.Rule{{Code: "ALL", Percent: 100, Cap: math.MaxInt64}}),
	}

	q, err := engine.Price(cart, "ALL")
	require.NoError(t, err)
	want := int64(catalog.MaxTicketTypes) * catalog.MaxUnitPrice * pricing.MaxQuantity
	require.Equal(t, want, q.Subtotal)
	require.Equal(t, want, q.Discount)
	require.Zero(t, q.Total)
	require.Positive(t, q.Subtotal*100, "gateway minor units must not wrap")
}
