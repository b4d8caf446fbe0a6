package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/craftsphere/wallet-ledger/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

func requireExactlyOne(rows int64, operation string) error {
	if rows != 1 {
		return fmt.Errorf("%s affected %d rows", operation, rows)
	}
	return nil
}

const maxTxAttempts = 5

// retryable reports whether the error is a transient conflict between
// concurrent writers (serialization failure or deadlock victim).
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// withConflictRetry runs fn up to maxTxAttempts times, sleeping a jittered
// backoff between attempts when the failure is a transient conflict.
func withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		backoff := time.Duration(10*(attempt+1))*time.Millisecond + time.Duration(rand.Intn(20))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
}
