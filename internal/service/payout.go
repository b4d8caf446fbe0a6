package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/gateway"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/observability"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var ErrWithdrawalNotFound = errors.New("withdrawal not found")

// PayoutService moves funds out of the ledger through the external rail.
// A withdrawal debits the balance immediately but stays PENDING until the
// rail confirms or fails it; failure restores funds with a compensating
// credit, never by editing the original row.
type PayoutService struct {
	store QueryStore
	rail  gateway.PayoutRail
}

func NewPayoutService(store QueryStore, rail gateway.PayoutRail) *PayoutService {
	return &PayoutService{store: store, rail: rail}
}

// RequestPayout reserves the funds and submits the withdrawal to the rail.
func (s *PayoutService) RequestPayout(ctx context.Context, walletID uuid.UUID, amount int64) (*models.PayoutRequest, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var (
		withdrawal models.Transaction
		wallet     models.Wallet
	)
	err := withConflictRetry(ctx, func() error {
		return s.store.RunInTx(ctx, func(q *repository.Queries) error {
			w, err := q.GetWalletForUpdate(ctx, walletID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return domain.ErrWalletNotFound
				}
				return fmt.Errorf("lock wallet: %w", err)
			}
			if amount < w.PayoutSettings.MinAmount {
				return domain.ErrBelowPayoutMinimum
			}
			wallet = w

			metadata, err := marshalMetadata(map[string]string{
				"account_ref": w.PayoutSettings.AccountRef,
			})
			if err != nil {
				return err
			}

			tx, err := applyLedgerEntry(ctx, q, ledgerEntry{
				WalletID:     walletID,
				Type:         domain.TxTypeDebit,
				Category:     domain.CategoryWithdrawal,
				Amount:       amount,
				Metadata:     metadata,
				LeavePending: true,
			})
			if err != nil {
				return err
			}
			withdrawal = *tx
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.rail.Submit(ctx, gateway.PayoutRequest{
		Token:      withdrawal.ID.String(),
		AccountRef: wallet.PayoutSettings.AccountRef,
		Amount:     amount,
		Currency:   wallet.Currency,
	}); err != nil {
		// The rail never accepted the request, so there is nothing to wait
		// for: fail the withdrawal and restore the funds right away.
		zap.L().Warn("payout rail submission failed",
			zap.Error(err), zap.String("transaction_id", withdrawal.ID.String()))
		if failErr := s.FailPayout(ctx, withdrawal.ID, "rail submission failed: "+err.Error()); failErr != nil {
			return nil, fmt.Errorf("rail submission failed and withdrawal not reversed: %w", failErr)
		}
		return nil, fmt.Errorf("submit payout: %w", err)
	}

	observability.IncrementPayoutResolution("requested")
	return &models.PayoutRequest{
		TransactionID: withdrawal.ID,
		WalletID:      walletID,
		Amount:        amount,
		Currency:      wallet.Currency,
		Status:        withdrawal.Status,
		CreatedAt:     withdrawal.CreatedAt,
	}, nil
}

// ConfirmPayout resolves a pending withdrawal after the rail confirmed it.
// The funds left the balance at request time, so completion only records the
// terminal status and the rail's reference. Redelivered confirmations for an
// already-completed withdrawal are acknowledged without effect.
func (s *PayoutService) ConfirmPayout(ctx context.Context, transactionID uuid.UUID, externalReference string) error {
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		tx, err := loadWithdrawal(ctx, q, transactionID)
		if err != nil {
			return err
		}
		if tx.Status == domain.TxStatusCompleted {
			return nil
		}
		if tx.Status != domain.TxStatusPending {
			return domain.ErrPayoutNotPending
		}

		rows, err := q.CompleteTransactionWithReference(ctx, transactionID, externalReference)
		if err != nil {
			return fmt.Errorf("complete withdrawal: %w", err)
		}
		return requireExactlyOne(rows, "complete withdrawal")
	})
	if err != nil {
		return err
	}
	observability.IncrementPayoutResolution("confirmed")
	zap.L().Info("payout confirmed",
		zap.String("transaction_id", transactionID.String()),
		zap.String("external_reference", externalReference))
	return nil
}

// FailPayout resolves a pending withdrawal after the rail rejected it. The
// original row is marked FAILED and the reserved funds come back through a
// compensating credit of the same amount.
func (s *PayoutService) FailPayout(ctx context.Context, transactionID uuid.UUID, reason string) error {
	err := withConflictRetry(ctx, func() error {
		return s.store.RunInTx(ctx, func(q *repository.Queries) error {
			tx, err := loadWithdrawal(ctx, q, transactionID)
			if err != nil {
				return err
			}
			if tx.Status == domain.TxStatusFailed {
				return nil
			}
			if tx.Status != domain.TxStatusPending {
				return domain.ErrPayoutNotPending
			}

			wallet, err := q.GetWalletForUpdate(ctx, tx.WalletID)
			if err != nil {
				return fmt.Errorf("lock wallet: %w", err)
			}

			// A concurrent resolution can commit while this call waits on
			// the wallet lock; the status must be re-read under the lock
			// before any compensation is written.
			tx, err = loadWithdrawal(ctx, q, transactionID)
			if err != nil {
				return err
			}
			if tx.Status == domain.TxStatusFailed {
				return nil
			}
			if tx.Status != domain.TxStatusPending {
				return domain.ErrPayoutNotPending
			}

			compensationID := uuid.New()
			compMetadata, err := marshalMetadata(map[string]string{
				"compensates": transactionID.String(),
				"reason":      reason,
			})
			if err != nil {
				return err
			}
			comp, err := q.InsertTransaction(ctx, repository.InsertTransactionParams{
				ID:       compensationID,
				WalletID: tx.WalletID,
				Type:     domain.TxTypeCredit,
				Category: domain.CategoryWithdrawal,
				Amount:   tx.Amount,
				Metadata: compMetadata,
			})
			if err != nil {
				return fmt.Errorf("insert compensating credit: %w", err)
			}

			rows, err := q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{
				ID:              tx.WalletID,
				Delta:           tx.Amount,
				ExpectedVersion: wallet.Version,
			})
			if err != nil {
				return fmt.Errorf("restore balance: %w", err)
			}
			if err := requireExactlyOne(rows, "restore balance"); err != nil {
				return err
			}

			rows, err = q.CompleteTransaction(ctx, comp.ID)
			if err != nil {
				return fmt.Errorf("complete compensating credit: %w", err)
			}
			if err := requireExactlyOne(rows, "complete compensating credit"); err != nil {
				return err
			}

			failMetadata, err := mergeMetadata(tx.Metadata, map[string]string{
				"compensated_by": compensationID.String(),
				"failure_reason": reason,
			})
			if err != nil {
				return err
			}
			rows, err = q.FailTransaction(ctx, repository.FailTransactionParams{
				ID:       transactionID,
				Metadata: failMetadata,
			})
			if err != nil {
				return fmt.Errorf("fail withdrawal: %w", err)
			}
			return requireExactlyOne(rows, "fail withdrawal")
		})
	})
	if err != nil {
		return err
	}
	observability.IncrementPayoutResolution("failed")
	zap.L().Warn("payout failed, funds restored",
		zap.String("transaction_id", transactionID.String()),
		zap.String("reason", reason))
	return nil
}

// TimeOutStaleWithdrawals fails withdrawals that stayed pending past the
// operator window, restoring their funds. Returns how many were resolved.
func (s *PayoutService) TimeOutStaleWithdrawals(ctx context.Context, window time.Duration, batchSize int32) (int, error) {
	cutoff := time.Now().Add(-window)
	stale, err := s.store.Queries().GetStalePendingWithdrawals(ctx, repository.StaleRowsParams{
		Cutoff: cutoff,
		Limit:  batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("scan stale withdrawals: %w", err)
	}

	resolved := 0
	for _, tx := range stale {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		if err := s.FailPayout(ctx, tx.ID, "payout confirmation timed out"); err != nil {
			zap.L().Error("failed to time out stale withdrawal",
				zap.Error(err), zap.String("transaction_id", tx.ID.String()))
			continue
		}
		resolved++
	}
	return resolved, nil
}

func loadWithdrawal(ctx context.Context, q *repository.Queries, transactionID uuid.UUID) (models.Transaction, error) {
	tx, err := q.GetTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Transaction{}, ErrWithdrawalNotFound
		}
		return models.Transaction{}, fmt.Errorf("load withdrawal: %w", err)
	}
	if tx.Category != domain.CategoryWithdrawal || tx.Type != domain.TxTypeDebit {
		return models.Transaction{}, ErrWithdrawalNotFound
	}
	return tx, nil
}

func mergeMetadata(existing json.RawMessage, extra map[string]string) (json.RawMessage, error) {
	merged := make(map[string]any)
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			merged = make(map[string]any)
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}
