package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Queries is the row-level data access layer for the ledger tables.
// All balance-affecting statements are meant to run through Store.RunInTx.
type Queries struct {
	db DBTX
}

// New creates a query set bound to the given connection source.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx rebinds the query set to an open transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const walletColumns = `id, owner_id, balance, currency, payout_account_ref,
	min_payout_amount, payout_schedule, version, is_active, created_at, updated_at`

func scanWallet(row pgx.Row) (models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Balance, &w.Currency,
		&w.PayoutSettings.AccountRef, &w.PayoutSettings.MinAmount, &w.PayoutSettings.Schedule,
		&w.Version, &w.IsActive, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

type CreateWalletParams struct {
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Currency string
	Payout   models.PayoutSettings
}

func (q *Queries) CreateWallet(ctx context.Context, arg CreateWalletParams) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO wallets (id, owner_id, balance, currency, payout_account_ref,
			min_payout_amount, payout_schedule, version, is_active, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6, 1, TRUE, NOW(), NOW())
		RETURNING `+walletColumns,
		arg.ID, arg.OwnerID, arg.Currency,
		arg.Payout.AccountRef, arg.Payout.MinAmount, arg.Payout.Schedule,
	)
	return scanWallet(row)
}

func (q *Queries) GetWallet(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id)
	return scanWallet(row)
}

func (q *Queries) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1`, ownerID)
	return scanWallet(row)
}

// GetWalletForUpdate locks the wallet row for the rest of the transaction.
// The debit check and the balance write must both happen under this lock.
func (q *Queries) GetWalletForUpdate(ctx context.Context, id uuid.UUID) (models.Wallet, error) {
	row := q.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id)
	return scanWallet(row)
}

type ApplyBalanceDeltaParams struct {
	ID              uuid.UUID
	Delta           int64
	ExpectedVersion int64
}

// ApplyBalanceDelta applies a signed delta and bumps the version counter.
// The version predicate doubles as an optimistic check; with the row already
// locked it should always match, and a zero row count is a hard fault.
func (q *Queries) ApplyBalanceDelta(ctx context.Context, arg ApplyBalanceDeltaParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND version = $3 AND balance + $1 >= 0`,
		arg.Delta, arg.ID, arg.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListWalletIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, `SELECT id FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const transactionColumns = `id, wallet_id, type, category, amount, status,
	transfer_id, related_wallet_id, idempotency_key, external_reference,
	metadata, created_at, completed_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.WalletID, &t.Type, &t.Category, &t.Amount, &t.Status,
		&t.TransferID, &t.RelatedWalletID, &t.IdempotencyKey, &t.ExternalReference,
		&t.Metadata, &t.CreatedAt, &t.CompletedAt,
	)
	return t, err
}

type InsertTransactionParams struct {
	ID              uuid.UUID
	WalletID        uuid.UUID
	Type            string
	Category        string
	Amount          int64
	TransferID      *uuid.UUID
	RelatedWalletID *uuid.UUID
	IdempotencyKey  *string
	Metadata        json.RawMessage
}

// InsertTransaction appends a PENDING ledger row.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, category, amount, status,
			transfer_id, related_wallet_id, idempotency_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, 'PENDING', $6, $7, $8, $9, NOW())
		RETURNING `+transactionColumns,
		arg.ID, arg.WalletID, arg.Type, arg.Category, arg.Amount,
		arg.TransferID, arg.RelatedWalletID, arg.IdempotencyKey, arg.Metadata,
	)
	return scanTransaction(row)
}

// CompleteTransaction promotes a PENDING row to COMPLETED.
func (q *Queries) CompleteTransaction(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'COMPLETED', completed_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CompleteTransactionWithReference promotes a PENDING row to COMPLETED and
// records the external payout-rail confirmation id.
func (q *Queries) CompleteTransactionWithReference(ctx context.Context, id uuid.UUID, externalRef string) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'COMPLETED', completed_at = NOW(), external_reference = $2
		WHERE id = $1 AND status = 'PENDING'`, id, externalRef)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type FailTransactionParams struct {
	ID       uuid.UUID
	Metadata json.RawMessage
}

// FailTransaction marks a PENDING row FAILED. The amount is never touched;
// corrections happen through compensating entries.
func (q *Queries) FailTransaction(ctx context.Context, arg FailTransactionParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = 'FAILED', completed_at = NOW(),
			metadata = COALESCE($2, metadata)
		WHERE id = $1 AND status = 'PENDING'`, arg.ID, arg.Metadata)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM wallet_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// GetTransactionByIdempotencyKey finds an existing row for a wallet-scoped key.
func (q *Queries) GetTransactionByIdempotencyKey(ctx context.Context, walletID uuid.UUID, key string) (models.Transaction, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE wallet_id = $1 AND idempotency_key = $2`, walletID, key)
	return scanTransaction(row)
}

// FindTransferByIdempotencyKey looks up a transfer by either of its legs.
func (q *Queries) FindTransferByIdempotencyKey(ctx context.Context, key string) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE transfer_id = (
			SELECT transfer_id FROM wallet_transactions
			WHERE idempotency_key = $1 AND transfer_id IS NOT NULL
			LIMIT 1
		)
		ORDER BY type`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetTransferLegs returns both rows sharing a transfer id, debits first.
func (q *Queries) GetTransferLegs(ctx context.Context, transferID uuid.UUID) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE transfer_id = $1 ORDER BY type`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

type ListTransactionsParams struct {
	WalletID uuid.UUID
	Type     string
	Category string
	From     *time.Time
	To       *time.Time
	Limit    int32
	Offset   int32
}

// ListTransactions pages a wallet's ledger newest-first with optional filters.
func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, error) {
	query, args := buildListQuery(`SELECT `+transactionColumns+` FROM wallet_transactions`, arg)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", arg.Limit, arg.Offset)

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// CountTransactions returns the total matching the same filters, for pagination.
func (q *Queries) CountTransactions(ctx context.Context, arg ListTransactionsParams) (int64, error) {
	query, args := buildListQuery(`SELECT COUNT(*) FROM wallet_transactions`, arg)
	var count int64
	err := q.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

func buildListQuery(base string, arg ListTransactionsParams) (string, []any) {
	clauses := []string{"wallet_id = $1"}
	args := []any{arg.WalletID}
	if arg.Type != "" {
		args = append(args, arg.Type)
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if arg.Category != "" {
		args = append(args, arg.Category)
		clauses = append(clauses, fmt.Sprintf("category = $%d", len(args)))
	}
	if arg.From != nil {
		args = append(args, *arg.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if arg.To != nil {
		args = append(args, *arg.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	return base + " WHERE " + strings.Join(clauses, " AND "), args
}

// ComputeLedgerBalance recomputes a wallet balance from its ledger rows.
// Completed rows count with their sign. Pending withdrawals count because
// their funds are reserved at request time. Failed withdrawals that received
// a compensating credit also count, so the pair nets to zero.
func (q *Queries) ComputeLedgerBalance(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var sum int64
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE
			WHEN status = 'COMPLETED' THEN
				CASE WHEN type = 'credit' THEN amount ELSE -amount END
			WHEN status = 'PENDING' AND category = 'withdrawal' THEN -amount
			WHEN status = 'FAILED' AND category = 'withdrawal'
				AND metadata ? 'compensated_by' THEN -amount
			ELSE 0
		END), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1`, walletID).Scan(&sum)
	return sum, err
}

type StaleRowsParams struct {
	Cutoff time.Time
	Limit  int32
}

// GetStalePendingWithdrawals finds withdrawals pending past the operator
// window. The scan runs outside any transaction, so it takes no row locks;
// resolution re-checks the status under the wallet lock.
func (q *Queries) GetStalePendingWithdrawals(ctx context.Context, arg StaleRowsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE category = 'withdrawal' AND status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, arg.Cutoff, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// GetOrphanPendingTransferLegs finds transfer legs left PENDING, which can
// only happen if a process died between creating and completing the pair.
func (q *Queries) GetOrphanPendingTransferLegs(ctx context.Context, arg StaleRowsParams) ([]models.Transaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM wallet_transactions
		WHERE category = 'transfer' AND status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, arg.Cutoff, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
