package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHMACKey = "webhook-secret-key"

func sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(testHMACKey))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

func TestHandleOrderEvent(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	artisan := seedWallet(t, db, 0)

	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, testHMACKey, false)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":          "ord-wh-1",
		"total_amount":      2000,
		"artisan_wallet_id": artisan.ID.String(),
	})
	require.NoError(t, err)

	result, err := svc.HandleOrderEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.PlatformFeeTx.Amount)
	assert.Equal(t, int64(1800), result.ArtisanEarningTx.Amount)
	assert.Equal(t, int64(200), walletBalance(t, db, platform.ID))
	assert.Equal(t, int64(1800), walletBalance(t, db, artisan.ID))

	// Redelivery with the same payload replays without double-crediting.
	replay, err := svc.HandleOrderEvent(ctx, payload, sign(payload))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, int64(200), walletBalance(t, db, platform.ID))
}

func TestHandleOrderEventRejectsBadSignature(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, testHMACKey, false)

	payload := []byte(`{"order_id":"ord-wh-2","total_amount":100,"artisan_wallet_id":"x"}`)

	_, err := svc.HandleOrderEvent(context.Background(), payload, "sha256=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.HandleOrderEvent(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandlePayoutEventConfirmed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	wallet := seedWallet(t, db, 3000)

	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, testHMACKey, false)
	ctx := context.Background()

	payout, err := payouts.RequestPayout(ctx, wallet.ID, 1000)
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]string{
		"transaction_id":     payout.TransactionID.String(),
		"status":             "confirmed",
		"external_reference": "rail-ref-1",
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandlePayoutEvent(ctx, payload, sign(payload)))
	assert.Equal(t, domain.TxStatusCompleted, transactionStatus(t, db, payout.TransactionID))
}

func TestHandlePayoutEventFailed(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	wallet := seedWallet(t, db, 3000)

	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, testHMACKey, false)
	ctx := context.Background()

	payout, err := payouts.RequestPayout(ctx, wallet.ID, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(2000), walletBalance(t, db, wallet.ID))

	payload, err := json.Marshal(map[string]string{
		"transaction_id": payout.TransactionID.String(),
		"status":         "failed",
		"reason":         "invalid account",
	})
	require.NoError(t, err)

	require.NoError(t, svc.HandlePayoutEvent(ctx, payload, sign(payload)))
	assert.Equal(t, domain.TxStatusFailed, transactionStatus(t, db, payout.TransactionID))
	assert.Equal(t, int64(3000), walletBalance(t, db, wallet.ID))
}

func TestHandlePayoutEventValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, testHMACKey, false)
	ctx := context.Background()

	payload, err := json.Marshal(map[string]string{
		"transaction_id": "not-a-uuid",
		"status":         "confirmed",
	})
	require.NoError(t, err)
	assert.Error(t, svc.HandlePayoutEvent(ctx, payload, sign(payload)))

	wallet := seedWallet(t, db, 2000)
	payout, err := payouts.RequestPayout(ctx, wallet.ID, 1000)
	require.NoError(t, err)

	payload, err = json.Marshal(map[string]string{
		"transaction_id": payout.TransactionID.String(),
		"status":         "exploded",
	})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.HandlePayoutEvent(ctx, payload, sign(payload)), ErrUnknownPayoutStatus)

	// Confirmation without a reference is rejected.
	payload, err = json.Marshal(map[string]string{
		"transaction_id": payout.TransactionID.String(),
		"status":         "confirmed",
	})
	require.NoError(t, err)
	assert.Error(t, svc.HandlePayoutEvent(ctx, payload, sign(payload)))
}

func TestWebhookSkipSignature(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	platform := seedWallet(t, db, 0)
	artisan := seedWallet(t, db, 0)

	revenue := NewRevenueService(store, decimal.RequireFromString("0.10"), platform.ID)
	payouts := NewPayoutService(store, &stubRail{})
	svc := NewWebhookService(revenue, payouts, "", true)

	payload, err := json.Marshal(map[string]interface{}{
		"order_id":          "ord-wh-skip",
		"total_amount":      1000,
		"artisan_wallet_id": artisan.ID.String(),
	})
	require.NoError(t, err)

	_, err = svc.HandleOrderEvent(context.Background(), payload, "")
	require.NoError(t, err)
}
