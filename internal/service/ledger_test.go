package service

import (
	"context"
	"sync"
	"testing"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransactionCreditAndDebit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 0)
	ctx := context.Background()

	credit, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: domain.CategoryDeposit,
		Amount:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, credit.Status)
	assert.Equal(t, int64(1000), walletBalance(t, db, wallet.ID))

	debit, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeDebit,
		Category: domain.CategoryWithdrawal,
		Amount:   400,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, debit.Status)
	assert.Equal(t, int64(600), walletBalance(t, db, wallet.ID))

	balance, err := svc.GetBalance(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)
}

func TestRecordTransactionInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 300)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeDebit,
		Category: domain.CategoryWithdrawal,
		Amount:   500,
	})
	require.Error(t, err)
	require.True(t, domain.IsInsufficientFunds(err))

	var ife *domain.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, int64(200), ife.Shortfall())

	// A rejected debit must leave no trace: balance intact, no ledger row.
	assert.Equal(t, int64(300), walletBalance(t, db, wallet.ID))
	var count int
	require.NoError(t, db.QueryRow(ctx,
		"SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1", wallet.ID).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestRecordTransactionValidation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 100)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: domain.CategoryDeposit,
		Amount:   0,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: "refund",
		Amount:   100,
	})
	assert.Error(t, err)
}

func TestRecordTransactionInactiveWallet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 1000)
	ctx := context.Background()

	_, err := db.Exec(ctx, "UPDATE wallets SET is_active = FALSE WHERE id = $1", wallet.ID)
	require.NoError(t, err)

	_, err = svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: domain.CategoryDeposit,
		Amount:   100,
	})
	assert.ErrorIs(t, err, domain.ErrWalletInactive)
	assert.Equal(t, int64(1000), walletBalance(t, db, wallet.ID))
}

func TestRecordTransactionIdempotentReplay(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 0)
	ctx := context.Background()

	key := "dep-001"
	req := RecordTransactionRequest{
		WalletID:       wallet.ID,
		Type:           domain.TxTypeCredit,
		Category:       domain.CategoryDeposit,
		Amount:         500,
		IdempotencyKey: &key,
	}

	first, err := svc.RecordTransaction(ctx, req)
	require.NoError(t, err)

	second, err := svc.RecordTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Applied exactly once.
	assert.Equal(t, int64(500), walletBalance(t, db, wallet.ID))
}

func TestRecordTransactionConcurrentDebits(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 1000)
	ctx := context.Background()

	// 20 concurrent debits of 100 against a balance of 1000: exactly 10
	// succeed, the rest fail with insufficient funds, and the balance ends
	// at zero without ever going negative.
	n := 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
				WalletID: wallet.ID,
				Type:     domain.TxTypeDebit,
				Category: domain.CategoryWithdrawal,
				Amount:   100,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.True(t, domain.IsInsufficientFunds(err), "unexpected error: %v", err)
		}
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, int64(0), walletBalance(t, db, wallet.ID))
}

func TestReconcileConsistentWallet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 0)
	ctx := context.Background()

	for _, amount := range []int64{1000, 250} {
		_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
			WalletID: wallet.ID,
			Type:     domain.TxTypeCredit,
			Category: domain.CategoryDeposit,
			Amount:   amount,
		})
		require.NoError(t, err)
	}
	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeDebit,
		Category: domain.CategoryWithdrawal,
		Amount:   300,
	})
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, int64(950), report.StoredBalance)
	assert.Equal(t, int64(950), report.ComputedBalance)
}

func TestReconcileDetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewLedgerService(repository.NewStore(db))
	wallet := seedWallet(t, db, 0)
	ctx := context.Background()

	_, err := svc.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: domain.CategoryDeposit,
		Amount:   1000,
	})
	require.NoError(t, err)

	// Corrupt the stored balance behind the ledger's back.
	_, err = db.Exec(ctx, "UPDATE wallets SET balance = 999 WHERE id = $1", wallet.ID)
	require.NoError(t, err)

	report, err := svc.Reconcile(ctx, wallet.ID)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, int64(999), report.StoredBalance)
	assert.Equal(t, int64(1000), report.ComputedBalance)
}
