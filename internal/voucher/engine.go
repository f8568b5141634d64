package voucher

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidPercent is returned when a rule percentage falls outside 0..100.
	ErrInvalidPercent = errors.New("voucher percent must be between 0 and 100")
	// ErrInvalidCap is returned when a rule carries a negative cap.
	ErrInvalidCap = errors.New("voucher cap must not be negative")
	// ErrDuplicateCode is returned when two rules normalise to the same code.
	ErrDuplicateCode = errors.New("voucher code defined twice")
)

// Rule is a percentage discount bounded by an absolute cap.
type Rule struct {
	Code    string
	Percent int64
	Cap     int64
}

// DefaultRules are the coupons available when no override is configured.
var DefaultRules = []Rule{
	{Code: "ZERO10", Percent: 10, Cap: 1000},
	{Code: "ZERO20", Percent: 20, Cap: 2000},
}

// Catalog is an immutable set of coupon rules keyed by normalised code.
type Catalog struct {
	rules map[string]Rule
}

// NormalizeCode trims and upper-cases a coupon code. Blank input yields "".
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NewCatalog validates and indexes the provided rules.
func NewCatalog(rules []Rule) (*Catalog, error) {
	indexed := make(map[string]Rule, len(rules))
	for _, r := range rules {
		code := NormalizeCode(r.Code)
		if code == "" {
			return nil, errors.New("voucher code is required")
		}
		if r.Percent < 0 || r.Percent > 100 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPercent, code)
		}
		if r.Cap < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCap, code)
		}
		if _, dup := indexed[code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
		}
		r.Code = code
		indexed[code] = r
	}
	return &Catalog{rules: indexed}, nil
}

// MustNewCatalog behaves like NewCatalog but panics on error.
func MustNewCatalog(rules []Rule) *Catalog {
	c, err := NewCatalog(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup resolves a code after normalisation.
func (c *Catalog) Lookup(code string) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	r, ok := c.rules[NormalizeCode(code)]
	return r, ok
}

// Codes lists configured codes in sorted order.
func (c *Catalog) Codes() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.rules))
	for code := range c.rules {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Compute returns the discount for subtotal under the rule.
//
// The raw discount is subtotal*percent/100 rounded half-up, then bounded by the
// rule cap and by the subtotal itself.
func Compute(subtotal int64, r Rule) int64 {
	if subtotal <= 0 || r.Percent <= 0 {
		return 0
	}
	discount := (subtotal*r.Percent + 50) / 100
	if discount > r.Cap {
		discount = r.Cap
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// ParseRules reads a "CODE=percent:cap,..." override. An empty value yields DefaultRules.
func ParseRules(value string) ([]Rule, error) {
	if strings.TrimSpace(value) == "" {
		return append([]Rule(nil), DefaultRules...), nil
	}
	var out []Rule
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		code, terms, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("voucher: malformed entry %q", part)
		}
		pctRaw, capRaw, ok := strings.Cut(terms, ":")
		if !ok {
			return nil, fmt.Errorf("voucher: entry %q must be CODE=percent:cap", part)
		}
		pct, err := strconv.ParseInt(strings.TrimSpace(pctRaw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("voucher: percent for %s: %w", code, err)
		}
		limit, err := strconv.ParseInt(strings.TrimSpace(capRaw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("voucher: cap for %s: %w", code, err)
		}
		out = append(out, Rule{Code: NormalizeCode(code), Percent: pct, Cap: limit})
	}
	return out, nil
}
