package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/internal/infrastructure/storage/postgres"
	"larder/pkg/logger"
)

// HeaderIdempotencyKey lets a client retry a lifecycle call safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyBodyBytes = 1 << 20

const (
	keyIdempotencyKey   = "idempotency_key"
	keyIdempotencyStore = "idempotency_store"
)

// IdempotencyStore remembers responses per (owner, key). Implemented by
// postgres.IdempotencyStore.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, owner id.ID, key, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, owner id.ID, key string, statusCode int, body []byte) error
}

// Idempotency replays the stored response of a POST, PUT, PATCH or DELETE
// sent again with the same Idempotency-Key. Must run after Account.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewValidation("cannot read request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		// The path is part of the hash so one key cannot be reused for
		// another purchase or order.
		sum := sha256.Sum256(append([]byte(c.Request.URL.Path+"\n"), body...))
		operation := c.Request.Method + " " + c.FullPath()

		replay, err := store.AcquireKey(c.Request.Context(), OwnerID(c), key, operation, hex.EncodeToString(sum[:]))
		if err != nil {
			if _, ok := apperror.AsAppError(err); !ok {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}
		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, "application/json; charset=utf-8", replay.Body)
			c.Abort()
			return
		}

		c.Set(keyIdempotencyKey, key)
		c.Set(keyIdempotencyStore, store)
		c.Next()
	}
}

// CompleteIdempotency stores the response for the request's key, if any.
func CompleteIdempotency(c *gin.Context, status int, body []byte) {
	key := c.GetString(keyIdempotencyKey)
	if key == "" {
		return
	}
	v, ok := c.Get(keyIdempotencyStore)
	if !ok {
		return
	}
	store, ok := v.(IdempotencyStore)
	if !ok {
		return
	}
	if err := store.CompleteKey(c.Request.Context(), OwnerID(c), key, status, body); err != nil {
		logger.Warn(c.Request.Context(), "failed to store idempotent response", "key", key, "error", err)
	}
	// Completed once per request.
	c.Set(keyIdempotencyKey, "")
}
