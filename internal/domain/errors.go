package domain

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletInactive      = errors.New("wallet is inactive")
	ErrConcurrencyConflict = errors.New("concurrent modification, retries exhausted")
	ErrTransferSameWallet  = errors.New("cannot transfer to the same wallet")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrBelowPayoutMinimum  = errors.New("amount is below the minimum payout threshold")
	ErrPayoutNotPending    = errors.New("withdrawal is not pending")
)

// InsufficientFundsError reports a rejected debit together with the shortfall
// so clients can prompt for a top-up.
type InsufficientFundsError struct {
	WalletID  string
	Requested int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: requested %d, available %d (short %d)",
		e.Requested, e.Available, e.Shortfall())
}

// Shortfall is the additional amount the wallet would need for the debit to succeed.
func (e *InsufficientFundsError) Shortfall() int64 {
	return e.Requested - e.Available
}

// IsInsufficientFunds reports whether err is an insufficient-funds rejection.
func IsInsufficientFunds(err error) bool {
	var ife *InsufficientFundsError
	return errors.As(err, &ife)
}
