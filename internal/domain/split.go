package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RevenueSplit is the commission breakdown of a completed order.
// PlatformFee + ArtisanEarning always equals the order total exactly; the
// rounding remainder goes to the platform, never to the artisan.
type RevenueSplit struct {
	PlatformFee    int64
	ArtisanEarning int64
}

// SplitRevenue computes the platform fee as round-half-up(total * rate) and
// gives the artisan the remainder. total is in minor units; rate is a
// fraction, e.g. 0.10 for a 10% commission.
func SplitRevenue(total int64, rate decimal.Decimal) (RevenueSplit, error) {
	if total <= 0 {
		return RevenueSplit{}, fmt.Errorf("invalid order total: %d", total)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return RevenueSplit{}, fmt.Errorf("commission rate out of range: %s", rate)
	}

	fee := decimal.NewFromInt(total).Mul(rate).Round(0).IntPart()
	if fee > total {
		fee = total
	}
	return RevenueSplit{
		PlatformFee:    fee,
		ArtisanEarning: total - fee,
	}, nil
}
