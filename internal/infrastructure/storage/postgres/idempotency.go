package postgres

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
)

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// staleAfter is how long a pending key may sit before another request may
// reclaim it.
const staleAfter = time.Minute

// IdempotencyRecord stores the result of an idempotent lifecycle request.
type IdempotencyRecord struct {
	OwnerID     id.ID             `db:"owner_id"`
	Key         string            `db:"idempotency_key"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"`
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode int
	Body       []byte
}

// IdempotencyStore manages Idempotency-Key records so a client retrying a
// transition after a lost response gets the first answer back.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// AcquireKey attempts to acquire an idempotency key.
// Returns:
//   - (nil, nil) if key acquired
//   - (replay, nil) if the operation already finished
//   - (nil, error) if the key is in use or was used for another request
func (s *IdempotencyStore) AcquireKey(ctx context.Context, owner id.ID, key, operation, requestHash string) (*IdempotencyReplay, error) {
	now := time.Now().UTC()

	var (
		record   IdempotencyRecord
		inserted bool
	)
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_idempotency (owner_id, idempotency_key, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (owner_id, idempotency_key) DO UPDATE SET
			expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING operation, status, request_hash, response, coalesce(response_status, 0), updated_at, (xmax = 0)
	`, owner, key, operation, IdempotencyStatusPending, requestHash, now, now.Add(s.ttl)).Scan(
		&record.Operation, &record.Status, &record.RequestHash,
		&record.Response, &record.StatusCode, &record.UpdatedAt, &inserted,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if inserted {
		return nil, nil
	}

	if record.Operation != operation || record.RequestHash != requestHash {
		return nil, apperror.NewConflict("idempotency key was used for a different request").
			WithDetail("key", key).
			WithDetail("stored_operation", record.Operation)
	}

	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return &IdempotencyReplay{
			StatusCode: replayStatus(record.StatusCode),
			Body:       record.Response,
		}, nil

	case IdempotencyStatusPending:
		if now.Sub(record.UpdatedAt) <= staleAfter {
			return nil, apperror.NewConflict("request with this idempotency key is in progress").
				WithDetail("key", key)
		}
		// Reclaim a key left behind by a crashed request.
		tag, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
			UPDATE sys_idempotency
			SET updated_at = $1
			WHERE owner_id = $2 AND idempotency_key = $3 AND status = $4 AND updated_at = $5
		`, now, owner, key, IdempotencyStatusPending, record.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, apperror.NewConflict("request with this idempotency key is in progress").
				WithDetail("key", key)
		}
	}
	return nil, nil
}

// CompleteKey stores the response of a finished request. Server errors
// release the key instead so the client may retry.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, owner id.ID, key string, statusCode int, body []byte) error {
	if statusCode >= http.StatusInternalServerError {
		_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
			DELETE FROM sys_idempotency WHERE owner_id = $1 AND idempotency_key = $2
		`, owner, key)
		return err
	}

	status := IdempotencyStatusSuccess
	if statusCode >= http.StatusBadRequest {
		status = IdempotencyStatusFailed
	}
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    updated_at = $4
		WHERE owner_id = $5 AND idempotency_key = $6
	`, status, body, statusCode, time.Now().UTC(), owner, key)
	return err
}

func replayStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
