package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/google/uuid"
)

var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnknownPayoutStatus = errors.New("unknown payout status")
)

// WebhookService handles incoming webhook events from external systems:
// order completions from the marketplace and payout resolutions from the rail.
type WebhookService struct {
	revenue *RevenueService
	payouts *PayoutService
	hmacKey []byte
	skipSig bool
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(revenue *RevenueService, payouts *PayoutService, hmacKey string, skipSignature bool) *WebhookService {
	return &WebhookService{
		revenue: revenue,
		payouts: payouts,
		hmacKey: []byte(hmacKey),
		skipSig: skipSignature,
	}
}

// OrderWebhookPayload is delivered when an order reaches its funds-capturable
// state and its revenue must be split into the artisan and platform wallets.
type OrderWebhookPayload struct {
	OrderID         string `json:"order_id"`
	TotalAmount     int64  `json:"total_amount"`
	ArtisanWalletID string `json:"artisan_wallet_id"`
}

// PayoutWebhookPayload is delivered when the external rail resolves a
// previously submitted withdrawal.
type PayoutWebhookPayload struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
}

// HandleOrderEvent verifies the signature and splits the order's revenue.
// Redeliveries replay the original result.
func (w *WebhookService) HandleOrderEvent(ctx context.Context, payload []byte, signature string) (*models.RevenueSplitResult, error) {
	if !w.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event OrderWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	event.OrderID = strings.TrimSpace(event.OrderID)
	if event.OrderID == "" {
		return nil, errors.New("order_id is required")
	}
	artisanWalletID, err := uuid.Parse(strings.TrimSpace(event.ArtisanWalletID))
	if err != nil {
		return nil, fmt.Errorf("invalid artisan_wallet_id: %w", err)
	}

	return w.revenue.SplitOrderRevenue(ctx, models.Order{
		ID:              event.OrderID,
		TotalAmount:     event.TotalAmount,
		ArtisanWalletID: artisanWalletID,
	})
}

// HandlePayoutEvent verifies the signature and resolves a pending withdrawal.
func (w *WebhookService) HandlePayoutEvent(ctx context.Context, payload []byte, signature string) error {
	if !w.verifyHMAC(payload, signature) {
		return ErrInvalidSignature
	}

	var event PayoutWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	transactionID, err := uuid.Parse(strings.TrimSpace(event.TransactionID))
	if err != nil {
		return fmt.Errorf("invalid transaction_id: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(event.Status)) {
	case "confirmed":
		if strings.TrimSpace(event.ExternalReference) == "" {
			return errors.New("external_reference is required for confirmations")
		}
		return w.payouts.ConfirmPayout(ctx, transactionID, event.ExternalReference)
	case "failed":
		reason := strings.TrimSpace(event.Reason)
		if reason == "" {
			reason = "rejected by payout rail"
		}
		return w.payouts.FailPayout(ctx, transactionID, reason)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayoutStatus, event.Status)
	}
}

// verifyHMAC verifies the HMAC signature of the payload.
func (w *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if w.skipSig {
		return true
	}
	if len(w.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, w.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	// hmac.Equal keeps the comparison constant time.
	return hmac.Equal([]byte(signature), []byte(expectedSig))
}
