package amount

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FractionDigits is the fixed precision the ledger uses for payment amounts.
const FractionDigits = 7

// Amount represents a payment amount with fixed precision
type Amount struct {
	value decimal.Decimal
}

// Parse creates an Amount from a ledger-formatted decimal string
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Amount{}, fmt.Errorf("negative amount %q", s)
	}
	if d.Exponent() < -FractionDigits {
		return Amount{}, fmt.Errorf("amount %q exceeds %d fraction digits", s, FractionDigits)
	}
	return Amount{value: d}, nil
}

// MustParse parses a compile-time constant amount and panics on error
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromInt creates an Amount from a whole number of units
func FromInt(i int64) Amount {
	return Amount{value: decimal.NewFromInt(i)}
}

// Equal reports exact decimal equality. Amounts that differ only in
// representation ("1", "1.0000000") compare equal; amounts that differ in
// value by any margin do not.
func (a Amount) Equal(other Amount) bool {
	return a.value.Equal(other.value)
}

// IsZero reports whether the amount is exactly zero
func (a Amount) IsZero() bool {
	return a.value.IsZero()
}

// Add returns the sum of two amounts
func (a Amount) Add(other Amount) Amount {
	return Amount{value: a.value.Add(other.value)}
}

// String formats the amount with the ledger's fixed precision
func (a Amount) String() string {
	return a.value.StringFixed(FractionDigits)
}
