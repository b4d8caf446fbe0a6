package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayoutSettings holds the external-rail configuration of a wallet.
type PayoutSettings struct {
	AccountRef string `json:"account_ref"`
	MinAmount  int64  `json:"min_amount"`
	Schedule   string `json:"schedule"`
}

// Wallet is the balance record for one owner/currency pair.
// Balance is in integer minor units and never negative.
type Wallet struct {
	ID             uuid.UUID      `json:"id"`
	OwnerID        uuid.UUID      `json:"owner_id"`
	Balance        int64          `json:"balance"`
	Currency       string         `json:"currency"`
	PayoutSettings PayoutSettings `json:"payout_settings"`
	Version        int64          `json:"version"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Transaction is an immutable ledger entry. Rows are never deleted; the only
// in-place mutation is the PENDING -> COMPLETED/FAILED status transition and
// its completion timestamp.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	WalletID          uuid.UUID       `json:"wallet_id"`
	Type              string          `json:"type"`
	Category          string          `json:"category"`
	Amount            int64           `json:"amount"`
	Status            string          `json:"status"`
	TransferID        *uuid.UUID      `json:"transfer_id,omitempty"`
	RelatedWalletID   *uuid.UUID      `json:"related_wallet_id,omitempty"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty"`
	ExternalReference *string         `json:"external_reference,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// TransferResult pairs the two legs of an atomic transfer.
type TransferResult struct {
	TransferID uuid.UUID   `json:"transfer_id"`
	DebitLeg   Transaction `json:"debit_leg"`
	CreditLeg  Transaction `json:"credit_leg"`
	Replayed   bool        `json:"replayed"`
}

// PayoutRequest is the receipt returned for a withdrawal. The underlying
// transaction stays PENDING until the external rail confirms or fails it.
type PayoutRequest struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	WalletID      uuid.UUID `json:"wallet_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReconcileReport compares a wallet's stored balance against the signed sum
// of its completed transactions.
type ReconcileReport struct {
	WalletID        uuid.UUID `json:"wallet_id"`
	Consistent      bool      `json:"consistent"`
	ComputedBalance int64     `json:"computed_balance"`
	StoredBalance   int64     `json:"stored_balance"`
}

// Order is the boundary payload delivered when an order reaches its
// funds-capturable state.
type Order struct {
	ID              string    `json:"order_id"`
	TotalAmount     int64     `json:"total_amount"`
	ArtisanWalletID uuid.UUID `json:"artisan_wallet_id"`
}

// RevenueSplitResult holds the two credits written for one order.
type RevenueSplitResult struct {
	PlatformFeeTx    Transaction `json:"platform_fee_tx"`
	ArtisanEarningTx Transaction `json:"artisan_earning_tx"`
	Replayed         bool        `json:"replayed"`
}
