package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TicketType identifies a purchasable pass.
type TicketType string

const (
	StudentConf TicketType = "STUDENT_CONF"
	WorkingConf TicketType = "WORKING_CONF"
	StudentStay TicketType = "STUDENT_STAY"
	WorkingStay TicketType = "WORKING_STAY"
)

// DefaultPrices holds the unit prices, in whole currency units, used when no override is configured.
var DefaultPrices = map[TicketType]int64{
	StudentConf: 1500,
	WorkingConf: 2000,
	StudentStay: 4000,
	WorkingStay: 4500,
}

// Limits keeping every amount derived from a cart inside int64: at most
// MaxTicketTypes lines of 50 passes at MaxUnitPrice, in minor units, with the
// percent discount multiplication on top.
const (
	MaxUnitPrice   int64 = 1_000_000_000
	MaxTicketTypes       = 1000
)

var (
	// ErrEmptyCatalog is returned when a catalog is built without any ticket types.
	ErrEmptyCatalog = errors.New("catalog: no ticket types configured")
	// ErrInvalidPrice is returned when a ticket type's price is not in (0, MaxUnitPrice].
	ErrInvalidPrice = errors.New("catalog: price must be positive and at most 1000000000")
)

// Catalog is an immutable mapping of ticket type to unit price.
type Catalog struct {
	prices   map[TicketType]int64
	currency string
	symbol   string
}

// Entry is a single priced ticket type.
type Entry struct {
	Type      TicketType `json:"type"`
	UnitPrice int64      `json:"unitPrice"`
}

// New copies the provided prices into an immutable catalog.
func New(prices map[TicketType]int64, currency, symbol string) (*Catalog, error) {
	if len(prices) == 0 {
		return nil, ErrEmptyCatalog
	}
	if len(prices) > MaxTicketTypes {
		return nil, fmt.Errorf("catalog: at most %d ticket types", MaxTicketTypes)
	}
	copied := make(map[TicketType]int64, len(prices))
	for key, price := range prices {
		name := TicketType(strings.TrimSpace(string(key)))
		if name == "" {
			return nil, errors.New("catalog: ticket type is required")
		}
		if price <= 0 || price > MaxUnitPrice {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, name)
		}
		copied[name] = price
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "INR"
	}
	return &Catalog{prices: copied, currency: currency, symbol: strings.TrimSpace(symbol)}, nil
}

// MustNew behaves like New but panics on error.
func MustNew(prices map[TicketType]int64, currency, symbol string) *Catalog {
	c, err := New(prices, currency, symbol)
	if err != nil {
		panic(err)
	}
	return c
}

// Price returns the unit price for the ticket type.
func (c *Catalog) Price(t TicketType) (int64, bool) {
	if c == nil {
		return 0, false
	}
	price, ok := c.prices[t]
	return price, ok
}

// Currency returns the ISO currency code prices are expressed in.
func (c *Catalog) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

// Symbol returns the display symbol for the currency, falling back to the code.
func (c *Catalog) Symbol() string {
	if c == nil {
		return ""
	}
	if c.symbol == "" {
		return c.currency + " "
	}
	return c.symbol
}

// Entries lists ticket types sorted by name.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.prices))
	for t, price := range c.prices {
		out = append(out, Entry{Type: t, UnitPrice: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Parse reads a "TYPE=price,TYPE=price" override. An empty value yields DefaultPrices.
func Parse(value string) (map[TicketType]int64, error) {
	if strings.TrimSpace(value) == "" {
		out := make(map[TicketType]int64, len(DefaultPrices))
		for k, v := range DefaultPrices {
			out[k] = v
		}
		return out, nil
	}
	out := map[TicketType]int64{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, raw, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("catalog: malformed entry %q", part)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("catalog: price for %s: %w", strings.TrimSpace(name), err)
		}
		out[TicketType(strings.ToUpper(strings.TrimSpace(name)))] = price
	}
	return out, nil
}
