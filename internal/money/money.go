// Package money holds wallet amounts in minor units (paise).
//
// Amounts cross the API boundary as decimal rupee values ("150", 150.5,
// "200.00") and are stored as integers so balance arithmetic never touches
// floating point.
package money

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits.
const Scale = 2

var (
	ErrPrecision = errors.New("money: more than 2 decimal places")
	ErrRange     = errors.New("money: amount out of range")
)

var (
	maxMinor = decimal.NewFromInt(math.MaxInt64)
	minMinor = decimal.NewFromInt(math.MinInt64)
)

// Amount is a value in minor units.
type Amount int64

// FromMajor converts whole rupees to an Amount.
func FromMajor(rupees int64) Amount {
	return Amount(rupees * 100)
}

// Parse reads a decimal rupee string.
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a rupee decimal, rejecting sub-paisa precision.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrPrecision
	}
	if minor.GreaterThan(maxMinor) || minor.LessThan(minMinor) {
		return 0, ErrRange
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in rupees.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) IsPositive() bool { return a > 0 }

// Add returns a+b, failing instead of wrapping past the int64 range.
func (a Amount) Add(b Amount) (Amount, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrRange
	}
	return a + b, nil
}

// MarshalJSON renders the amount as a bare JSON number in rupees.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
