/*
Package money provides the fixed-point monetary value used across the
planning engine.

PURPOSE:
  Every amount in the engine - budget funds, allocations, requisitions,
  payments, retirements, settlements - is a Money value. Money is a
  decimal amount plus a currency code plus the valuation date the amount
  was stated at.

DESIGN PRINCIPLES:
  1. Immutability: Money values are never mutated after construction;
     arithmetic returns new values.
  2. Precision: decimal.Decimal, never float64. Storage uses the string
     form of the decimal (48,12 in the schema).
  3. Single currency: arithmetic between two different currencies is
     undefined - callers must convert first (a collaborator concern).
     Mixing currencies panics, which surfaces programming errors rather
     than producing silently wrong books.
  4. Zero sentinel: the zero value Money{} is a distinguished "no
     amount" that is currency-compatible with everything. Summing a list
     always starts from Zero().

USAGE:
  fund := money.New(decimal.NewFromInt(1000), "TZS")
  total := money.Zero().Add(fund)
  if total.GreaterThan(fund) { ... }

SEE ALSO:
  - plan/types.go: entities embedding Money
*/
package money

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an immutable monetary value: a decimal amount in a currency,
// valued at a date. The zero value is the distinguished zero sentinel.
type Money struct {
	Amount   decimal.Decimal
	Currency string
	Date     time.Time
}

// New creates a Money valued today.
func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency, Date: today()}
}

// NewFromFloat is a convenience constructor for literals in tests and
// handlers. Production amounts should come from decimal strings.
func NewFromFloat(amount float64, currency string) Money {
	return New(decimal.NewFromFloat(amount), currency)
}

// Parse builds a Money from the decimal string form.
func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return New(d, currency), nil
}

// Zero returns the zero sentinel. It is compatible with any currency.
func Zero() Money { return Money{} }

func today() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether the amount is zero (the sentinel is zero too).
func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) IsNegative() bool { return m.Amount.IsNegative() }
func (m Money) IsPositive() bool { return m.Amount.IsPositive() }

// SameCurrency reports whether arithmetic between the two values is
// defined. The zero sentinel matches everything.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency || m.isSentinel() || o.isSentinel()
}

func (m Money) isSentinel() bool { return m.Currency == "" && m.Amount.IsZero() }

// currencyOf picks the non-sentinel currency of the pair.
func (m Money) currencyOf(o Money) string {
	if m.isSentinel() {
		return o.Currency
	}
	return m.Currency
}

func (m Money) mustMatch(o Money, op string) {
	if !m.SameCurrency(o) {
		panic(fmt.Sprintf("money: %s between %s and %s is undefined, convert first", op, m.Currency, o.Currency))
	}
}

// Add returns m + o. Panics on currency mismatch.
func (m Money) Add(o Money) Money {
	m.mustMatch(o, "addition")
	return Money{Amount: m.Amount.Add(o.Amount), Currency: m.currencyOf(o), Date: laterDate(m.Date, o.Date)}
}

// Sub returns m - o. Panics on currency mismatch.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o, "subtraction")
	return Money{Amount: m.Amount.Sub(o.Amount), Currency: m.currencyOf(o), Date: laterDate(m.Date, o.Date)}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency, Date: m.Date}
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return Money{Amount: m.Amount.Abs(), Currency: m.Currency, Date: m.Date}
}

func (m Money) GreaterThan(o Money) bool { m.mustMatch(o, "comparison"); return m.Amount.GreaterThan(o.Amount) }
func (m Money) LessThan(o Money) bool    { m.mustMatch(o, "comparison"); return m.Amount.LessThan(o.Amount) }

func (m Money) GreaterThanOrEqual(o Money) bool { return !m.LessThan(o) }
func (m Money) LessThanOrEqual(o Money) bool    { return !m.GreaterThan(o) }

// Equal compares amounts; the currencies must be compatible. Valuation
// dates do not participate in equality.
func (m Money) Equal(o Money) bool {
	m.mustMatch(o, "comparison")
	return m.Amount.Equal(o.Amount)
}

// PercentOf returns m as a percentage of total, rounded to the given
// number of decimal places. Returns zero when total is zero.
func (m Money) PercentOf(total Money, places int32) decimal.Decimal {
	m.mustMatch(total, "percentage")
	if total.Amount.IsZero() {
		return decimal.Zero
	}
	return m.Amount.Div(total.Amount).Mul(decimal.NewFromInt(100)).Round(places)
}

func (m Money) String() string {
	if m.isSentinel() {
		return "0"
	}
	return m.Currency + " " + m.Amount.String()
}

func laterDate(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
