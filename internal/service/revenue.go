package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/craftsphere/wallet-ledger/internal/models"
	"github.com/craftsphere/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RevenueService splits a completed order's revenue between the platform and
// the artisan. This is a credit-only operation: the funds were captured by
// the external payment step, so no wallet in this system is debited.
type RevenueService struct {
	store            QueryStore
	commissionRate   decimal.Decimal
	platformWalletID uuid.UUID
}

func NewRevenueService(store QueryStore, commissionRate decimal.Decimal, platformWalletID uuid.UUID) *RevenueService {
	return &RevenueService{
		store:            store,
		commissionRate:   commissionRate,
		platformWalletID: platformWalletID,
	}
}

// SplitOrderRevenue credits the platform fee and the artisan earning for one
// order. Keyed by the order id: redelivery of the same order event returns
// the original pair without double-crediting.
func (s *RevenueService) SplitOrderRevenue(ctx context.Context, order models.Order) (*models.RevenueSplitResult, error) {
	if strings.TrimSpace(order.ID) == "" {
		return nil, errors.New("order id is required")
	}
	split, err := domain.SplitRevenue(order.TotalAmount, s.commissionRate)
	if err != nil {
		return nil, err
	}
	if order.ArtisanWalletID == s.platformWalletID {
		return nil, errors.New("artisan wallet cannot be the platform wallet")
	}

	orderKey := orderIdempotencyKey(order.ID)
	if existing, ok, err := s.findExisting(ctx, order, orderKey); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}

	metadata, err := marshalMetadata(map[string]string{"order_id": order.ID})
	if err != nil {
		return nil, err
	}

	var result models.RevenueSplitResult
	err = withConflictRetry(ctx, func() error {
		return s.store.RunInTx(ctx, func(q *repository.Queries) error {
			if err := lockWalletPair(ctx, q, s.platformWalletID, order.ArtisanWalletID); err != nil {
				return err
			}

			key := orderKey
			if split.ArtisanEarning > 0 {
				artisanTx, err := applyLedgerEntry(ctx, q, ledgerEntry{
					WalletID:       order.ArtisanWalletID,
					Type:           domain.TxTypeCredit,
					Category:       domain.CategoryOrderRevenue,
					Amount:         split.ArtisanEarning,
					Metadata:       metadata,
					IdempotencyKey: &key,
				})
				if err != nil {
					return err
				}
				result.ArtisanEarningTx = *artisanTx
			}

			if split.PlatformFee > 0 {
				feeTx, err := applyLedgerEntry(ctx, q, ledgerEntry{
					WalletID:       s.platformWalletID,
					Type:           domain.TxTypeCredit,
					Category:       domain.CategoryPlatformFee,
					Amount:         split.PlatformFee,
					Metadata:       metadata,
					IdempotencyKey: &key,
				})
				if err != nil {
					return err
				}
				result.PlatformFeeTx = *feeTx
			}
			return nil
		})
	})
	if err != nil {
		// A concurrently redelivered event won the insert; return its pair.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if existing, ok, lookupErr := s.findExisting(ctx, order, orderKey); lookupErr == nil && ok {
				return existing, nil
			}
		}
		return nil, err
	}

	zap.L().Info("order revenue split",
		zap.String("order_id", order.ID),
		zap.Int64("total", order.TotalAmount),
		zap.Int64("platform_fee", split.PlatformFee),
		zap.Int64("artisan_earning", split.ArtisanEarning))
	return &result, nil
}

// findExisting detects a redelivered order event by either credit leg.
func (s *RevenueService) findExisting(ctx context.Context, order models.Order, key string) (*models.RevenueSplitResult, bool, error) {
	queries := s.store.Queries()
	result := &models.RevenueSplitResult{Replayed: true}
	found := false

	artisanTx, err := queries.GetTransactionByIdempotencyKey(ctx, order.ArtisanWalletID, key)
	if err == nil {
		result.ArtisanEarningTx = artisanTx
		found = true
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("order idempotency lookup: %w", err)
	}

	feeTx, err := queries.GetTransactionByIdempotencyKey(ctx, s.platformWalletID, key)
	if err == nil {
		result.PlatformFeeTx = feeTx
		found = true
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("order fee lookup: %w", err)
	}

	if !found {
		return nil, false, nil
	}
	return result, true, nil
}

func orderIdempotencyKey(orderID string) string {
	return "order:" + orderID
}
