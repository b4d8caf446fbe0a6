package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository exposes read-side and administrative wallet access for handlers.
// Balance mutations never go through here; they run inside Store.RunInTx.
type Repository struct {
	db      *pgxpool.Pool
	queries *Queries
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db, queries: New(db)}
}

func (r *Repository) CreateWallet(ctx context.Context, ownerID uuid.UUID, currency string, payout models.PayoutSettings) (*models.Wallet, error) {
	wallet, err := r.queries.CreateWallet(ctx, CreateWalletParams{
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Currency: currency,
		Payout:   payout,
	})
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return &wallet, nil
}

func (r *Repository) GetWallet(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	wallet, err := r.queries.GetWallet(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *Repository) GetWalletByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Wallet, error) {
	wallet, err := r.queries.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet by owner: %w", err)
	}
	return &wallet, nil
}

// ListTransactions pages a wallet's ledger and returns the total match count.
func (r *Repository) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]models.Transaction, int64, error) {
	if arg.Limit <= 0 {
		arg.Limit = 20
	}
	if arg.Limit > 200 {
		arg.Limit = 200
	}
	if arg.Offset < 0 {
		arg.Offset = 0
	}

	transactions, err := r.queries.ListTransactions(ctx, arg)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	total, err := r.queries.CountTransactions(ctx, arg)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}
	return transactions, total, nil
}
