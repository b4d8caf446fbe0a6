package repository

import (
	"context"
	"time"
)

// IdempotencyRow is a stored HTTP response keyed by Idempotency-Key.
type IdempotencyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      time.Time
}

func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		SELECT idempotency_key, request_hash, method, path,
			response_status, response_body, content_type, in_progress, created_at
		FROM idempotency_keys WHERE idempotency_key = $1`, key).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress, &row.CreatedAt,
	)
	return row, err
}

type ReserveIdempotencyKeyParams struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
}

// ReserveIdempotencyKey claims a key for the in-flight request. Returns
// pgx.ErrNoRows via the RETURNING clause when the key is already taken.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, arg ReserveIdempotencyKeyParams) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path,
			response_status, response_body, content_type, in_progress, created_at)
		VALUES ($1, $2, $3, $4, 0, NULL, '', TRUE, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key, request_hash, method, path,
			response_status, response_body, content_type, in_progress, created_at`,
		arg.IdempotencyKey, arg.RequestHash, arg.Method, arg.Path).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress, &row.CreatedAt,
	)
	return row, err
}

type FinalizeIdempotencyKeyParams struct {
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	IdempotencyKey string
	RequestHash    string
}

func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, arg FinalizeIdempotencyKeyParams) (IdempotencyRow, error) {
	var row IdempotencyRow
	err := q.db.QueryRow(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, in_progress = FALSE
		WHERE idempotency_key = $4 AND request_hash = $5
		RETURNING idempotency_key, request_hash, method, path,
			response_status, response_body, content_type, in_progress, created_at`,
		arg.ResponseStatus, arg.ResponseBody, arg.ContentType, arg.IdempotencyKey, arg.RequestHash).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress, &row.CreatedAt,
	)
	return row, err
}

// DeleteExpiredIdempotencyKeys garbage-collects keys older than the retention window.
func (q *Queries) DeleteExpiredIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
