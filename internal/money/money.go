// Package money implements fixed-precision currency amounts as integer
// minor units. Binary floats never enter the arithmetic; fractional
// intermediate values go through shopspring/decimal and are rounded
// half-up exactly once per computed amount.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrInvalidCurrency  = errors.New("invalid_currency")
)

// Money is an amount in minor units (cents) of a single currency.
type Money struct {
	Amount   int64
	Currency string
}

func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func Zero(currency string) Money {
	return New(0, currency)
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }

func (m Money) Validate() error {
	if len(m.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// Cmp returns -1, 0 or 1 comparing amounts. Currencies must match.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Min returns the smaller of the two amounts. Currencies must match.
func (m Money) Min(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount < m.Amount {
		return other, nil
	}
	return m, nil
}

// MulRate multiplies the amount by an exact decimal rate and rounds
// half-up to the minor unit. This is the only rounding point for
// rate-based math; callers must not re-round the result.
func (m Money) MulRate(rate decimal.Decimal) Money {
	product := decimal.NewFromInt(m.Amount).Mul(rate)
	return Money{Amount: roundHalfUp(product), Currency: m.Currency}
}

// Percent computes p percent of the amount, rounded half-up once.
func (m Money) Percent(p decimal.Decimal) Money {
	return m.MulRate(p.Div(decimal.NewFromInt(100)))
}

// Prorate scales the amount by num/den, rounded half-up once.
// A zero denominator yields a zero amount.
func (m Money) Prorate(num, den int64) Money {
	if den == 0 {
		return Zero(m.Currency)
	}
	fraction := decimal.NewFromInt(num).Div(decimal.NewFromInt(den))
	return m.MulRate(fraction)
}

// MulInt scales by a whole quantity; exact, no rounding involved.
func (m Money) MulInt(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

func (m Money) String() string {
	units := decimal.New(m.Amount, -2)
	return fmt.Sprintf("%s %s", units.StringFixed(2), m.Currency)
}

// roundHalfUp rounds to zero decimal places, .5 away from zero.
// decimal.Round implements exactly that convention.
func roundHalfUp(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
