package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/gateway"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRail records submissions and can be told to reject them.
type stubRail struct {
	mu       sync.Mutex
	requests []gateway.PayoutRequest
	reject   bool
}

func (r *stubRail) Submit(ctx context.Context, req gateway.PayoutRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reject {
		return errors.New("rail says no")
	}
	r.requests = append(r.requests, req)
	return nil
}

func (r *stubRail) submitted() []gateway.PayoutRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.PayoutRequest(nil), r.requests...)
}

func TestRequestPayoutReservesFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	rail := &stubRail{}
	store := repository.NewStore(db)
	svc := NewPayoutService(store, rail)
	ledger := NewLedgerService(store)
	wallet := seedWallet(t, db, 5000)
	ctx := context.Background()

	payout, err := svc.RequestPayout(ctx, wallet.ID, 3000)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, payout.Status)

	// Funds leave the balance immediately even though the withdrawal is
	// still pending rail confirmation.
	assert.Equal(t, int64(2000), walletBalance(t, db, wallet.ID))
	assert.Equal(t, domain.TxStatusPending, transactionStatus(t, db, payout.TransactionID))

	reqs := rail.submitted()
	require.Len(t, reqs, 1)
	assert.Equal(t, payout.TransactionID.String(), reqs[0].Token)
	assert.Equal(t, "acct_test", reqs[0].AccountRef)
	assert.Equal(t, int64(3000), reqs[0].Amount)

	// The pending withdrawal is part of the ledger sum, so the wallet still
	// reconciles mid-flight.
	report, err := ledger.Reconcile(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestRequestPayoutBelowMinimum(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewPayoutService(repository.NewStore(db), &stubRail{})
	wallet := seedWalletWithSettings(t, db, 5000, models.PayoutSettings{
		AccountRef: "acct_min",
		MinAmount:  1000,
		Schedule:   "weekly",
	})
	ctx := context.Background()

	_, err := svc.RequestPayout(ctx, wallet.ID, 500)
	assert.ErrorIs(t, err, domain.ErrBelowPayoutMinimum)
	assert.Equal(t, int64(5000), walletBalance(t, db, wallet.ID))
}

func TestRequestPayoutInsufficientFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	svc := NewPayoutService(repository.NewStore(db), &stubRail{})
	wallet := seedWallet(t, db, 100)
	ctx := context.Background()

	_, err := svc.RequestPayout(ctx, wallet.ID, 500)
	require.Error(t, err)
	assert.True(t, domain.IsInsufficientFunds(err))
	assert.Equal(t, int64(100), walletBalance(t, db, wallet.ID))
}

func TestRequestPayoutRailRejectionRestoresFunds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	rail := &stubRail{reject: true}
	svc := NewPayoutService(repository.NewStore(db), rail)
	wallet := seedWallet(t, db, 2000)
	ctx := context.Background()

	_, err := svc.RequestPayout(ctx, wallet.ID, 1500)
	require.Error(t, err)

	// The withdrawal failed synchronously, so the compensating credit has
	// already restored the balance.
	assert.Equal(t, int64(2000), walletBalance(t, db, wallet.ID))
}

func TestConfirmPayout(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewPayoutService(store, &stubRail{})
	wallet := seedWallet(t, db, 5000)
	ctx := context.Background()

	payout, err := svc.RequestPayout(ctx, wallet.ID, 2000)
	require.NoError(t, err)

	require.NoError(t, svc.ConfirmPayout(ctx, payout.TransactionID, "rail-ref-77"))
	assert.Equal(t, domain.TxStatusCompleted, transactionStatus(t, db, payout.TransactionID))

	var ref string
	require.NoError(t, db.QueryRow(ctx,
		"SELECT external_reference FROM wallet_transactions WHERE id = $1",
		payout.TransactionID).Scan(&ref))
	assert.Equal(t, "rail-ref-77", ref)

	// Balance is unchanged by confirmation; the debit happened at request time.
	assert.Equal(t, int64(3000), walletBalance(t, db, wallet.ID))

	// Redelivered confirmation is a no-op.
	require.NoError(t, svc.ConfirmPayout(ctx, payout.TransactionID, "rail-ref-77"))
	assert.Equal(t, int64(3000), walletBalance(t, db, wallet.ID))
}

func TestFailPayoutWritesCompensatingCredit(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewPayoutService(store, &stubRail{})
	ledger := NewLedgerService(store)
	wallet := seedWallet(t, db, 3000)
	ctx := context.Background()

	payout, err := svc.RequestPayout(ctx, wallet.ID, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), walletBalance(t, db, wallet.ID))

	require.NoError(t, svc.FailPayout(ctx, payout.TransactionID, "account closed"))

	// Original row is FAILED and untouched in amount; funds come back via a
	// separate completed credit.
	assert.Equal(t, domain.TxStatusFailed, transactionStatus(t, db, payout.TransactionID))
	assert.Equal(t, int64(3000), walletBalance(t, db, wallet.ID))

	var compensatedBy string
	require.NoError(t, db.QueryRow(ctx,
		"SELECT metadata->>'compensated_by' FROM wallet_transactions WHERE id = $1",
		payout.TransactionID).Scan(&compensatedBy))
	compID, err := uuid.Parse(compensatedBy)
	require.NoError(t, err)

	var compType, compStatus string
	var compAmount int64
	require.NoError(t, db.QueryRow(ctx,
		"SELECT type, status, amount FROM wallet_transactions WHERE id = $1",
		compID).Scan(&compType, &compStatus, &compAmount))
	assert.Equal(t, domain.TxTypeCredit, compType)
	assert.Equal(t, domain.TxStatusCompleted, compStatus)
	assert.Equal(t, int64(3000), compAmount)

	// The deposit-withdraw-fail episode must leave the wallet reconciled.
	report, err := ledger.Reconcile(ctx, wallet.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)

	// Redelivered failure is a no-op: no second credit.
	require.NoError(t, svc.FailPayout(ctx, payout.TransactionID, "account closed"))
	assert.Equal(t, int64(3000), walletBalance(t, db, wallet.ID))
}

func TestFailPayoutConcurrentDeliveries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewPayoutService(store, &stubRail{})
	wallet := seedWallet(t, db, 2000)
	ctx := context.Background()

	payout, err := svc.RequestPayout(ctx, wallet.ID, 1500)
	require.NoError(t, err)

	// Racing failure deliveries for the same withdrawal: losers re-read the
	// row under the wallet lock, see it terminal and return without effect.
	n := 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.FailPayout(ctx, payout.TransactionID, "account closed")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, domain.TxStatusFailed, transactionStatus(t, db, payout.TransactionID))
	assert.Equal(t, int64(2000), walletBalance(t, db, wallet.ID))

	var credits int
	require.NoError(t, db.QueryRow(ctx,
		"SELECT COUNT(*) FROM wallet_transactions WHERE metadata->>'compensates' = $1",
		payout.TransactionID.String()).Scan(&credits))
	assert.Equal(t, 1, credits, "exactly one compensating credit")
}

func TestConfirmPayoutRejectsNonWithdrawal(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewPayoutService(store, &stubRail{})
	ledger := NewLedgerService(store)
	wallet := seedWallet(t, db, 0)
	ctx := context.Background()

	deposit, err := ledger.RecordTransaction(ctx, RecordTransactionRequest{
		WalletID: wallet.ID,
		Type:     domain.TxTypeCredit,
		Category: domain.CategoryDeposit,
		Amount:   100,
	})
	require.NoError(t, err)

	err = svc.ConfirmPayout(ctx, deposit.ID, "ref")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)

	err = svc.ConfirmPayout(ctx, uuid.New(), "ref")
	assert.ErrorIs(t, err, ErrWithdrawalNotFound)
}

func TestTimeOutStaleWithdrawals(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	store := repository.NewStore(db)
	svc := NewPayoutService(store, &stubRail{})
	wallet := seedWallet(t, db, 4000)
	ctx := context.Background()

	stale, err := svc.RequestPayout(ctx, wallet.ID, 1000)
	require.NoError(t, err)
	fresh, err := svc.RequestPayout(ctx, wallet.ID, 500)
	require.NoError(t, err)

	// Backdate the first withdrawal past the confirmation window.
	_, err = db.Exec(ctx,
		"UPDATE wallet_transactions SET created_at = NOW() - INTERVAL '48 hours' WHERE id = $1",
		stale.TransactionID)
	require.NoError(t, err)

	resolved, err := svc.TimeOutStaleWithdrawals(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	assert.Equal(t, domain.TxStatusFailed, transactionStatus(t, db, stale.TransactionID))
	assert.Equal(t, domain.TxStatusPending, transactionStatus(t, db, fresh.TransactionID))

	// 4000 - 1000 - 500, then the stale 1000 restored.
	assert.Equal(t, int64(3500), walletBalance(t, db, wallet.ID))

	// The resolved withdrawal is terminal, so a second sweep finds nothing.
	resolved, err = svc.TimeOutStaleWithdrawals(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)
}
