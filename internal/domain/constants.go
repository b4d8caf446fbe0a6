package domain

// Transaction direction. Every ledger row is one of these; balances are the
// signed sum (credit positive, debit negative) of completed rows.
const (
	TxTypeCredit = "credit"
	TxTypeDebit  = "debit"
)

// Transaction categories.
const (
	CategoryDeposit         = "deposit"
	CategoryWithdrawal      = "withdrawal"
	CategoryTransfer        = "transfer"
	CategoryOrderRevenue    = "order_revenue"
	CategoryPlatformFee     = "platform_fee"
	CategoryFeaturePurchase = "feature_purchase"
)

// Transaction statuses. COMPLETED and FAILED are terminal. Only withdrawals
// may remain PENDING after the originating call returns.
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Payout schedules supported by wallet payout settings.
const (
	PayoutScheduleManual  = "manual"
	PayoutScheduleWeekly  = "weekly"
	PayoutScheduleMonthly = "monthly"
)

// ValidCategory reports whether the category is one the ledger accepts.
func ValidCategory(category string) bool {
	switch category {
	case CategoryDeposit, CategoryWithdrawal, CategoryTransfer,
		CategoryOrderRevenue, CategoryPlatformFee, CategoryFeaturePurchase:
		return true
	default:
		return false
	}
}

// SignedAmount applies the transaction direction to a positive amount.
func SignedAmount(txType string, amount int64) int64 {
	if txType == TxTypeDebit {
		return -amount
	}
	return amount
}
