package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// LedgerService is the single writer of wallet balances. Every component
// that moves money funnels its single-wallet mutations through here.
type LedgerService struct {
	store QueryStore
}

func NewLedgerService(store QueryStore) *LedgerService {
	return &LedgerService{store: store}
}

// RecordTransactionRequest describes one balance-affecting ledger event.
type RecordTransactionRequest struct {
	WalletID       uuid.UUID
	Type           string
	Category       string
	Amount         int64
	Metadata       map[string]string
	IdempotencyKey *string
}

func (r RecordTransactionRequest) validate() error {
	if r.Amount <= 0 {
		return domain.ErrInvalidAmount
	}
	if r.Type != domain.TxTypeCredit && r.Type != domain.TxTypeDebit {
		return fmt.Errorf("invalid transaction type: %q", r.Type)
	}
	if !domain.ValidCategory(r.Category) {
		return fmt.Errorf("invalid transaction category: %q", r.Category)
	}
	return nil
}

// RecordTransaction validates, applies the balance delta, and appends the
// ledger row as one atomic unit. The debit check happens against the locked
// wallet row, never against a balance read earlier. A reused idempotency key
// returns the previously recorded transaction without re-applying anything.
func (s *LedgerService) RecordTransaction(ctx context.Context, req RecordTransactionRequest) (*models.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	var result models.Transaction
	err = withConflictRetry(ctx, func() error {
		return s.store.RunInTx(ctx, func(q *repository.Queries) error {
			tx, err := applyLedgerEntry(ctx, q, ledgerEntry{
				WalletID:       req.WalletID,
				Type:           req.Type,
				Category:       req.Category,
				Amount:         req.Amount,
				Metadata:       metadata,
				IdempotencyKey: req.IdempotencyKey,
			})
			if err != nil {
				return err
			}
			result = *tx
			return nil
		})
	})
	if err != nil {
		if dup := s.replayOnDuplicate(ctx, req, err); dup != nil {
			return dup, nil
		}
		return nil, err
	}
	return &result, nil
}

// replayOnDuplicate resolves a unique-violation race on the idempotency key:
// a concurrent request with the same key won the insert, so its row is the
// canonical result.
func (s *LedgerService) replayOnDuplicate(ctx context.Context, req RecordTransactionRequest, err error) *models.Transaction {
	if req.IdempotencyKey == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	existing, lookupErr := s.store.Queries().GetTransactionByIdempotencyKey(ctx, req.WalletID, *req.IdempotencyKey)
	if lookupErr != nil {
		return nil
	}
	return &existing
}

// GetBalance returns the current committed balance, strongly consistent.
func (s *LedgerService) GetBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	wallet, err := s.store.Queries().GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrWalletNotFound
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return wallet.Balance, nil
}

// Reconcile recomputes the balance from the transaction log and compares it
// to the stored value. Used for integrity audits, never for normal reads.
func (s *LedgerService) Reconcile(ctx context.Context, walletID uuid.UUID) (*models.ReconcileReport, error) {
	queries := s.store.Queries()
	wallet, err := queries.GetWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("reconcile: load wallet: %w", err)
	}
	computed, err := queries.ComputeLedgerBalance(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: compute balance: %w", err)
	}
	return &models.ReconcileReport{
		WalletID:        walletID,
		Consistent:      computed == wallet.Balance,
		ComputedBalance: computed,
		StoredBalance:   wallet.Balance,
	}, nil
}

// ledgerEntry is the transaction-scoped form of a single-wallet mutation,
// shared with the transfer and revenue paths so multi-entry operations can
// compose entries inside one unit of work.
type ledgerEntry struct {
	WalletID        uuid.UUID
	Type            string
	Category        string
	Amount          int64
	TransferID      *uuid.UUID
	RelatedWalletID *uuid.UUID
	Metadata        json.RawMessage
	IdempotencyKey  *string
	// LeavePending keeps the row PENDING and still applies the balance
	// delta; used by withdrawals awaiting external confirmation.
	LeavePending bool
}

// applyLedgerEntry runs the check-and-mutate sequence for one wallet under
// its row lock: idempotency lookup, debit check, pending insert, balance
// delta with version bump, completion.
func applyLedgerEntry(ctx context.Context, q *repository.Queries, entry ledgerEntry) (*models.Transaction, error) {
	if entry.IdempotencyKey != nil {
		existing, err := q.GetTransactionByIdempotencyKey(ctx, entry.WalletID, *entry.IdempotencyKey)
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	wallet, err := q.GetWalletForUpdate(ctx, entry.WalletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	if !wallet.IsActive {
		return nil, domain.ErrWalletInactive
	}

	if entry.Type == domain.TxTypeDebit && wallet.Balance < entry.Amount {
		return nil, &domain.InsufficientFundsError{
			WalletID:  wallet.ID.String(),
			Requested: entry.Amount,
			Available: wallet.Balance,
		}
	}

	tx, err := q.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID:              uuid.New(),
		WalletID:        entry.WalletID,
		Type:            entry.Type,
		Category:        entry.Category,
		Amount:          entry.Amount,
		TransferID:      entry.TransferID,
		RelatedWalletID: entry.RelatedWalletID,
		IdempotencyKey:  entry.IdempotencyKey,
		Metadata:        entry.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	rows, err := q.ApplyBalanceDelta(ctx, repository.ApplyBalanceDeltaParams{
		ID:              entry.WalletID,
		Delta:           domain.SignedAmount(entry.Type, entry.Amount),
		ExpectedVersion: wallet.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("apply balance delta: %w", err)
	}
	if err := requireExactlyOne(rows, "apply balance delta"); err != nil {
		return nil, err
	}

	if entry.LeavePending {
		return &tx, nil
	}

	rows, err = q.CompleteTransaction(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("complete transaction: %w", err)
	}
	if err := requireExactlyOne(rows, "complete transaction"); err != nil {
		return nil, err
	}

	completed, err := q.GetTransaction(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("reload transaction: %w", err)
	}
	return &completed, nil
}

func marshalMetadata(metadata map[string]string) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}
