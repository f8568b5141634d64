package pricing

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Quantity is a requested ticket count decoded leniently from client JSON.
//
// Numbers and numeric strings are truncated toward zero, true counts as 1, and
// anything else (null, false, non-numeric text, non-finite values, objects,
// arrays) decodes as 0. Values outside the int32 range saturate.
type Quantity int

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	*q = coerceJSON(data)
	return nil
}

// QuantityFromString applies the same coercion to a plain string value.
func QuantityFromString(s string) Quantity {
	return parseNumber(strings.TrimSpace(s))
}

func coerceJSON(data []byte) Quantity {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return 0
		}
		return QuantityFromString(s)
	case 't':
		if string(trimmed) == "true" {
			return 1
		}
		return 0
	case 'f', 'n', '{', '[':
		return 0
	default:
		return parseNumber(string(trimmed))
	}
}

func parseNumber(s string) Quantity {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	if f < math.MinInt32 {
		return math.MinInt32
	}
	return Quantity(f)
}
