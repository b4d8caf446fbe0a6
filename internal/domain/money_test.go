package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "12.50 USD", NewMoney(1250, "USD").String())
	assert.Equal(t, "0.01 EUR", NewMoney(1, "EUR").String())
	assert.Equal(t, "-3.00 USD", NewMoney(-300, "USD").String())
}

func TestMoneyToDecimal(t *testing.T) {
	d := NewMoney(199, "USD").ToDecimal()
	assert.Equal(t, "1.99", d.StringFixed(2))
}

func TestInsufficientFundsError(t *testing.T) {
	err := &InsufficientFundsError{WalletID: "w1", Requested: 500, Available: 200}
	assert.Equal(t, int64(300), err.Shortfall())
	assert.True(t, IsInsufficientFunds(err))
	assert.False(t, IsInsufficientFunds(ErrWalletNotFound))
	assert.Contains(t, err.Error(), "short 300")
}
