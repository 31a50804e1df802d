/*
Package generic provides the domain-agnostic building blocks of the leave engine.

PURPOSE:
  Quantities, calendar dates, the error taxonomy, and the balance journal.
  Nothing in this package knows what a leave type or an employee is; the
  leave package layers those concepts on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity with a unit (8 hours, 0.5 days)
  - Unit:   Hours or days. Balances are kept in hours, requests in days.

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal so half days and fractional accrual
     rates never drift.
  2. Explicit units: Converting days to hours always goes through
     ToHours with the configured hours-per-day factor.

USAGE:
  requested := generic.Days(2.5).ToHours(decimal.NewFromInt(8)) // 20 hours
  available := total.Sub(used).Sub(pending)

SEE ALSO:
  - time.go:    Calendar dates and the injectable clock
  - errors.go:  Error taxonomy shared by every component
  - journal.go: Append-only record of balance mutations
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitDays  Unit = "days"
	UnitHours Unit = "hours"
)

func NewAmount(value float64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Unit: unit}
}

func NewAmountFromInt(value int, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(int64(value)), Unit: unit}
}

// Hours is shorthand for NewAmount(v, UnitHours).
func Hours(v float64) Amount { return NewAmount(v, UnitHours) }

// Days is shorthand for NewAmount(v, UnitDays).
func Days(v float64) Amount { return NewAmount(v, UnitDays) }

// HoursOf wraps an already exact decimal as hours.
func HoursOf(v decimal.Decimal) Amount { return Amount{Value: v, Unit: UnitHours} }

// ZeroHours is the additive identity for balances.
func ZeroHours() Amount { return Amount{Value: decimal.Zero, Unit: UnitHours} }

// ParseAmount parses a decimal string such as "12.5". Storage layers keep
// amounts as text, so this is the inverse of Amount.Value.String().
func ParseAmount(s string, unit Unit) (Amount, error) {
	if s == "" {
		return Amount{Value: decimal.Zero, Unit: unit}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Amount{Value: d, Unit: unit}, nil
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

func (a Amount) Max(b Amount) Amount {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// ToHours converts a day amount into hours. Hour amounts pass through.
func (a Amount) ToHours(hoursPerDay decimal.Decimal) Amount {
	if a.Unit == UnitHours {
		return a
	}
	return Amount{Value: a.Value.Mul(hoursPerDay), Unit: UnitHours}
}

// Float returns the value as float64 for JSON responses.
func (a Amount) Float() float64 {
	f, _ := a.Value.Float64()
	return f
}

func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), a.Unit)
}
