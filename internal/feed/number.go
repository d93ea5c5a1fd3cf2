package feed

import (
	"bytes"
	"math"

	"github.com/shopspring/decimal"
)

// number is a JSON numeric field that upstream sends either as a number or as a
// string. null, "" and unparsable values decode as absent instead of failing the
// whole payload.
type number struct {
	value decimal.NullDecimal
}

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (n *number) UnmarshalJSON(data []byte) error {
	n.value = decimal.NullDecimal{}

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	if len(data) == 0 {
		return nil
	}

	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return nil
	}
	n.value = decimal.NullDecimal{Decimal: d, Valid: true}
	return nil
}

// Float returns the value and whether it is present and finite.
func (n number) Float() (float64, bool) {
	if !n.value.Valid {
		return 0, false
	}
	f, _ := n.value.Decimal.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FloatOr returns the value or def when absent.
func (n number) FloatOr(def float64) float64 {
	if f, ok := n.Float(); ok {
		return f
	}
	return def
}

// FloatPtr returns a pointer to the value, or nil when absent.
func (n number) FloatPtr() *float64 {
	if f, ok := n.Float(); ok {
		return &f
	}
	return nil
}

// Int returns the integer part of the value and whether it is present.
func (n number) Int() (int64, bool) {
	if !n.value.Valid {
		return 0, false
	}
	return n.value.Decimal.IntPart(), true
}
