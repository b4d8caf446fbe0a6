package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money represents a monetary value in a single currency.
// Amount is stored as BIGINT minor units (cents) to avoid floating point errors.
type Money struct {
	Amount   int64  // minor units
	Currency string // ISO 4217
}

// NewMoney creates a Money value from minor units.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts the int64 minor units to a shopspring/decimal major-unit value.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(100))
}

// String returns the human-readable representation, e.g. "12.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
