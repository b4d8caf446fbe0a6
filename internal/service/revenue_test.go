package service

import (
	"context"
	"testing"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOrderRevenue(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	platform := seedWallet(t, db, 0)
	artisan := seedWallet(t, db, 0)
	svc := NewRevenueService(repository.NewStore(db), decimal.RequireFromString("0.10"), platform.ID)
	ctx := context.Background()

	result, err := svc.SplitOrderRevenue(ctx, models.Order{
		ID:              "ord-1001",
		TotalAmount:     10000,
		ArtisanWalletID: artisan.ID,
	})
	require.NoError(t, err)
	assert.False(t, result.Replayed)

	assert.Equal(t, int64(1000), result.PlatformFeeTx.Amount)
	assert.Equal(t, domain.CategoryPlatformFee, result.PlatformFeeTx.Category)
	assert.Equal(t, int64(9000), result.ArtisanEarningTx.Amount)
	assert.Equal(t, domain.CategoryOrderRevenue, result.ArtisanEarningTx.Category)

	assert.Equal(t, int64(1000), walletBalance(t, db, platform.ID))
	assert.Equal(t, int64(9000), walletBalance(t, db, artisan.ID))
}

func TestSplitOrderRevenueRedelivery(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	platform := seedWallet(t, db, 0)
	artisan := seedWallet(t, db, 0)
	svc := NewRevenueService(repository.NewStore(db), decimal.RequireFromString("0.15"), platform.ID)
	ctx := context.Background()

	order := models.Order{ID: "ord-2002", TotalAmount: 5000, ArtisanWalletID: artisan.ID}

	first, err := svc.SplitOrderRevenue(ctx, order)
	require.NoError(t, err)

	second, err := svc.SplitOrderRevenue(ctx, order)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PlatformFeeTx.ID, second.PlatformFeeTx.ID)
	assert.Equal(t, first.ArtisanEarningTx.ID, second.ArtisanEarningTx.ID)

	// Credited exactly once despite the redelivery.
	assert.Equal(t, int64(750), walletBalance(t, db, platform.ID))
	assert.Equal(t, int64(4250), walletBalance(t, db, artisan.ID))
}

func TestSplitOrderRevenueZeroFee(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	platform := seedWallet(t, db, 0)
	artisan := seedWallet(t, db, 0)
	svc := NewRevenueService(repository.NewStore(db), decimal.Zero, platform.ID)
	ctx := context.Background()

	result, err := svc.SplitOrderRevenue(ctx, models.Order{
		ID:              "ord-freeride",
		TotalAmount:     400,
		ArtisanWalletID: artisan.ID,
	})
	require.NoError(t, err)

	// No platform leg is written for a zero fee.
	assert.Equal(t, int64(400), result.ArtisanEarningTx.Amount)
	assert.Equal(t, int64(0), walletBalance(t, db, platform.ID))
	assert.Equal(t, int64(400), walletBalance(t, db, artisan.ID))

	var count int
	require.NoError(t, db.QueryRow(ctx,
		"SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1", platform.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSplitOrderRevenueValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	platform := seedWallet(t, db, 0)
	svc := NewRevenueService(repository.NewStore(db), decimal.RequireFromString("0.10"), platform.ID)
	ctx := context.Background()

	_, err := svc.SplitOrderRevenue(ctx, models.Order{
		ID:              "",
		TotalAmount:     100,
		ArtisanWalletID: seedWallet(t, db, 0).ID,
	})
	assert.Error(t, err)

	_, err = svc.SplitOrderRevenue(ctx, models.Order{
		ID:              "ord-zero",
		TotalAmount:     0,
		ArtisanWalletID: seedWallet(t, db, 0).ID,
	})
	assert.Error(t, err)

	_, err = svc.SplitOrderRevenue(ctx, models.Order{
		ID:              "ord-selfdeal",
		TotalAmount:     100,
		ArtisanWalletID: platform.ID,
	})
	assert.Error(t, err)
}
