package service

import (
	"context"
	"fmt"

	"github.com/craftsphere/wallet-ledger/internal/observability"
	"go.uber.org/zap"
)

// ReconciliationService verifies ledger integrity invariants across every
// wallet: the stored balance must equal the signed sum of the wallet's
// ledger entries. Drift is reported, never silently corrected.
type ReconciliationService struct {
	store  QueryStore
	ledger *LedgerService
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store QueryStore, ledger *LedgerService) *ReconciliationService {
	return &ReconciliationService{store: store, ledger: ledger}
}

// Run sweeps all wallets and reports any balance that diverged from its
// ledger sum. Returns the number of inconsistent wallets.
func (s *ReconciliationService) Run(ctx context.Context) (int, error) {
	queries := s.store.Queries()
	walletIDs, err := queries.ListWalletIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list wallets: %w", err)
	}

	inconsistent := 0
	for _, id := range walletIDs {
		if err := ctx.Err(); err != nil {
			return inconsistent, err
		}
		report, err := s.ledger.Reconcile(ctx, id)
		if err != nil {
			zap.L().Error("reconciliation check failed",
				zap.Error(err), zap.String("wallet_id", id.String()))
			continue
		}
		if report.Consistent {
			continue
		}
		inconsistent++
		wallet, werr := queries.GetWallet(ctx, id)
		currency := "UNKNOWN"
		if werr == nil {
			currency = wallet.Currency
		}
		observability.IncrementLedgerDrift(currency)
		zap.L().Error("CRITICAL: wallet balance diverged from ledger",
			zap.String("wallet_id", id.String()),
			zap.Int64("stored_balance", report.StoredBalance),
			zap.Int64("computed_balance", report.ComputedBalance))
	}

	if inconsistent == 0 {
		zap.L().Info("ledger reconciliation clean", zap.Int("wallets", len(walletIDs)))
	}
	return inconsistent, nil
}
