/*
Package generic provides the domain-agnostic primitives of the commission engine.

PURPOSE:
  Everything the payment-plan engine computes is either an amount of money or a
  calendar date. This package owns both, plus the error taxonomy shared by every
  layer above it. Nothing in here knows about installments, colleges or agencies.

KEY CONCEPTS IN THIS FILE (money.go):
  - Money: an exact amount in integer cents (AUD, two decimal places)
  - Rounding: every operation that can produce sub-cent precision rounds to the
    nearest cent, half away from zero (round-half-up for the non-negative amounts
    the engine deals in)

DESIGN PRINCIPLES:
  1. Precision: Money stores int64 cents, never float64
  2. Decimal math: anything involving a rate or a divisor goes through
     decimal.Decimal and is rounded once at the end of that step
  3. Immutability: every operation returns a new value

USAGE:
  fee := generic.MustParseMoney("500.00")
  net := generic.NewMoneyFromInt(10000).Sub(fee)
  commission := net.MulRate(decimal.RequireFromString("0.15"))

SEE ALSO:
  - date.go: Date and calendar stepping
  - errors.go: InvalidAmountError
*/
package generic

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact cents
// =============================================================================

// Money is a fixed-point amount with two decimal places held as integer cents.
// The zero value is $0.00.
type Money struct {
	cents int64
}

var hundred = decimal.NewFromInt(100)

// Zero is $0.00.
var Zero = Money{}

// Cents builds Money from a number of cents.
func Cents(c int64) Money { return Money{cents: c} }

// NewMoneyFromInt builds Money from whole dollars.
func NewMoneyFromInt(dollars int64) Money { return Money{cents: dollars * 100} }

// NewMoney rounds d to the nearest cent.
func NewMoney(d decimal.Decimal) Money {
	return Money{cents: d.Mul(hundred).Round(0).IntPart()}
}

// ParseMoney parses a decimal string such as "1234.5" or "1234.56".
// Sub-cent digits are rounded to the nearest cent.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, &InvalidAmountError{Value: s, Reason: "not a decimal number"}
	}
	return NewMoney(d), nil
}

// MustParseMoney is ParseMoney for literals. It panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseNonNegativeMoney parses s and rejects negative results. field names the
// input in the returned error.
func ParseNonNegativeMoney(field, s string) (Money, error) {
	m, err := ParseMoney(s)
	if err != nil {
		var ia *InvalidAmountError
		if errors.As(err, &ia) {
			ia.Field = field
		}
		return Money{}, err
	}
	if m.IsNegative() {
		return Money{}, &InvalidAmountError{Field: field, Value: s, Reason: "must not be negative"}
	}
	return m, nil
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func (m Money) Cents() int64             { return m.cents }
func (m Money) Decimal() decimal.Decimal { return decimal.New(m.cents, -2) }
func (m Money) Add(o Money) Money        { return Money{cents: m.cents + o.cents} }
func (m Money) Sub(o Money) Money        { return Money{cents: m.cents - o.cents} }
func (m Money) Neg() Money               { return Money{cents: -m.cents} }
func (m Money) IsZero() bool             { return m.cents == 0 }
func (m Money) IsNegative() bool         { return m.cents < 0 }
func (m Money) IsPositive() bool         { return m.cents > 0 }
func (m Money) Equal(o Money) bool       { return m.cents == o.cents }
func (m Money) LessThan(o Money) bool    { return m.cents < o.cents }
func (m Money) GreaterThan(o Money) bool { return m.cents > o.cents }
func (m Money) Cmp(o Money) int          { return cmpInt64(m.cents, o.cents) }

func (m Money) Min(o Money) Money {
	if m.cents < o.cents {
		return m
	}
	return o
}

func (m Money) Max(o Money) Money {
	if m.cents > o.cents {
		return m
	}
	return o
}

// MulRate multiplies by an arbitrary decimal factor and rounds to the cent.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return NewMoney(m.Decimal().Mul(rate))
}

// DivRate divides by an arbitrary non-zero decimal and rounds to the cent.
func (m Money) DivRate(divisor decimal.Decimal) Money {
	return NewMoney(m.Decimal().DivRound(divisor, 16))
}

// SplitFloor divides m into n equal parts rounded down to the cent and returns
// the part together with the cents left over (m - part*n).
// n must be positive and m non-negative.
func (m Money) SplitFloor(n int) (part Money, remainder Money) {
	p := m.cents / int64(n)
	return Money{cents: p}, Money{cents: m.cents - p*int64(n)}
}

// Ratio returns m/o as a decimal with 10 digits of precision. A zero divisor
// yields zero.
func (m Money) Ratio(o Money) decimal.Decimal {
	if o.cents == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.cents).DivRound(decimal.NewFromInt(o.cents), 10)
}

// Sum adds up a list of amounts.
func Sum(amounts ...Money) Money {
	var total int64
	for _, a := range amounts {
		total += a.cents
	}
	return Money{cents: total}
}

// =============================================================================
// FORMATTING
// =============================================================================

// String renders the amount with exactly two decimals, e.g. "1234.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// MarshalJSON encodes Money as a JSON string so no float conversion happens in
// transit.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts both "12.34" and 12.34.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return fmt.Errorf("money: %w", err)
	}
	*m = parsed
	return nil
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
