package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/observability"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// TransferService performs two-sided atomic transfers between wallets.
type TransferService struct {
	store QueryStore
}

func NewTransferService(store QueryStore) *TransferService {
	return &TransferService{store: store}
}

// TransferRequest describes a two-wallet move of funds.
type TransferRequest struct {
	FromWalletID   uuid.UUID
	ToWalletID     uuid.UUID
	Amount         int64
	Category       string
	Description    string
	IdempotencyKey string
}

// Transfer debits one wallet and credits the other as a single atomic unit.
// Both legs share a freshly generated transfer id. Replaying the same
// idempotency key returns the original result without re-executing.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*models.TransferResult, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if req.FromWalletID == req.ToWalletID {
		return nil, domain.ErrTransferSameWallet
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, errors.New("idempotency key is required")
	}
	if req.Category == "" {
		req.Category = domain.CategoryTransfer
	}

	if result, ok, err := s.findExisting(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if ok {
		return result, nil
	}

	metadata, err := marshalMetadata(map[string]string{"description": req.Description})
	if err != nil {
		return nil, err
	}

	transferID := uuid.New()
	var debitLeg, creditLeg models.Transaction
	err = withConflictRetry(ctx, func() error {
		return s.store.RunInTx(ctx, func(q *repository.Queries) error {
			// Lock both wallets with the smaller id first, regardless of
			// which side is debited, so concurrent transfers over the same
			// pair never wait on each other in a cycle.
			if err := lockWalletPair(ctx, q, req.FromWalletID, req.ToWalletID); err != nil {
				return err
			}

			key := req.IdempotencyKey
			debit, err := applyLedgerEntry(ctx, q, ledgerEntry{
				WalletID:        req.FromWalletID,
				Type:            domain.TxTypeDebit,
				Category:        req.Category,
				Amount:          req.Amount,
				TransferID:      &transferID,
				RelatedWalletID: &req.ToWalletID,
				Metadata:        metadata,
				IdempotencyKey:  &key,
			})
			if err != nil {
				return err
			}

			credit, err := applyLedgerEntry(ctx, q, ledgerEntry{
				WalletID:        req.ToWalletID,
				Type:            domain.TxTypeCredit,
				Category:        req.Category,
				Amount:          req.Amount,
				TransferID:      &transferID,
				RelatedWalletID: &req.FromWalletID,
				Metadata:        metadata,
				IdempotencyKey:  &key,
			})
			if err != nil {
				return err
			}

			debitLeg, creditLeg = *debit, *credit
			return nil
		})
	})
	if err != nil {
		// A concurrent request holding the same key won the insert; its
		// pair is the canonical result.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if result, ok, lookupErr := s.findExisting(ctx, req.IdempotencyKey); lookupErr == nil && ok {
				return result, nil
			}
		}
		observability.IncrementTransfer(req.Category, "failed")
		return nil, err
	}

	observability.IncrementTransfer(req.Category, "completed")
	result := &models.TransferResult{
		TransferID: transferID,
		DebitLeg:   debitLeg,
		CreditLeg:  creditLeg,
	}
	// A same-key request can commit between the pre-check and this
	// transaction. applyLedgerEntry then returns its legs, and the stored
	// transfer id, not the freshly generated one, identifies the pair.
	if debitLeg.TransferID != nil && *debitLeg.TransferID != transferID {
		result.TransferID = *debitLeg.TransferID
		result.Replayed = true
	}
	return result, nil
}

// GetTransfer returns both legs of a completed transfer.
func (s *TransferService) GetTransfer(ctx context.Context, transferID uuid.UUID) (*models.TransferResult, error) {
	legs, err := s.store.Queries().GetTransferLegs(ctx, transferID)
	if err != nil {
		return nil, fmt.Errorf("load transfer legs: %w", err)
	}
	return pairLegs(legs)
}

func (s *TransferService) findExisting(ctx context.Context, key string) (*models.TransferResult, bool, error) {
	legs, err := s.store.Queries().FindTransferByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("transfer idempotency lookup: %w", err)
	}
	if len(legs) == 0 {
		return nil, false, nil
	}
	result, err := pairLegs(legs)
	if err != nil {
		return nil, false, err
	}
	result.Replayed = true
	return result, true, nil
}

func pairLegs(legs []models.Transaction) (*models.TransferResult, error) {
	if len(legs) != 2 {
		return nil, fmt.Errorf("transfer has %d legs, want 2", len(legs))
	}
	result := &models.TransferResult{TransferID: *legs[0].TransferID}
	for _, leg := range legs {
		switch leg.Type {
		case domain.TxTypeDebit:
			result.DebitLeg = leg
		case domain.TxTypeCredit:
			result.CreditLeg = leg
		}
	}
	if result.DebitLeg.ID == uuid.Nil || result.CreditLeg.ID == uuid.Nil {
		return nil, errors.New("transfer legs do not form a debit/credit pair")
	}
	return result, nil
}

// lockWalletPair acquires both wallet row locks in ascending id order.
func lockWalletPair(ctx context.Context, q *repository.Queries, a, b uuid.UUID) error {
	first, second := a, b
	if first.String() > second.String() {
		first, second = second, first
	}
	for _, id := range []uuid.UUID{first, second} {
		if _, err := q.GetWalletForUpdate(ctx, id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrWalletNotFound
			}
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
	}
	return nil
}

// RecoverOrphanTransfers finds transfer legs left PENDING past the cutoff and
// resolves each pair: a pair with a completed sibling is completed, anything
// else is failed on both legs. A transfer is never left with one leg
// completed and the other pending.
func (s *TransferService) RecoverOrphanTransfers(ctx context.Context, arg repository.StaleRowsParams) (int, error) {
	recovered := 0
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		orphans, err := q.GetOrphanPendingTransferLegs(ctx, arg)
		if err != nil {
			return fmt.Errorf("scan orphan transfer legs: %w", err)
		}

		seen := make(map[uuid.UUID]bool)
		for _, leg := range orphans {
			if leg.TransferID == nil || seen[*leg.TransferID] {
				continue
			}
			seen[*leg.TransferID] = true
			if err := recoverTransferPair(ctx, q, *leg.TransferID); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	return recovered, err
}

func recoverTransferPair(ctx context.Context, q *repository.Queries, transferID uuid.UUID) error {
	legs, err := q.GetTransferLegs(ctx, transferID)
	if err != nil {
		return fmt.Errorf("load legs for transfer %s: %w", transferID, err)
	}

	anyCompleted := false
	for _, leg := range legs {
		if leg.Status == domain.TxStatusCompleted {
			anyCompleted = true
		}
	}

	for _, leg := range legs {
		if leg.Status != domain.TxStatusPending {
			continue
		}
		if anyCompleted {
			// The sibling committed its balance effect, so this leg must be
			// brought forward: apply its delta and complete it.
			wallet, err := q.GetWalletForUpdate(ctx, leg.WalletID)
			if err != nil {
				return fmt.Errorf("lock wallet for orphan leg %s: %w", leg.ID, err)
			}
			rows, err := q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{
				ID:              leg.WalletID,
				Delta:           domain.SignedAmount(leg.Type, leg.Amount),
				ExpectedVersion: wallet.Version,
			})
			if err != nil {
				return fmt.Errorf("apply delta for orphan leg %s: %w", leg.ID, err)
			}
			if err := requireExactlyOne(rows, "apply orphan leg delta"); err != nil {
				return err
			}
			rows, err = q.CompleteTransaction(ctx, leg.ID)
			if err != nil {
				return fmt.Errorf("complete orphan leg %s: %w", leg.ID, err)
			}
			if err := requireExactlyOne(rows, "complete orphan leg"); err != nil {
				return err
			}
			zap.L().Warn("completed orphan transfer leg",
				zap.String("transfer_id", transferID.String()),
				zap.String("transaction_id", leg.ID.String()))
			continue
		}

		rows, err := q.FailTransaction(ctx, repository.FailTransactionParams{ID: leg.ID})
		if err != nil {
			return fmt.Errorf("fail orphan leg %s: %w", leg.ID, err)
		}
		if err := requireExactlyOne(rows, "fail orphan leg"); err != nil {
			return err
		}
		zap.L().Warn("reversed orphan transfer leg",
			zap.String("transfer_id", transferID.String()),
			zap.String("transaction_id", leg.ID.String()))
	}
	return nil
}
