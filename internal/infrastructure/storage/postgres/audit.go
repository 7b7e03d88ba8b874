package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	appctx "larder/internal/core/context"
	"larder/internal/core/id"
)

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the change payload size above which entries
// are stored zstd-compressed.
const DefaultCompressThreshold = 10 * 1024

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID                id.ID           `db:"id" json:"id"`
	OwnerID           id.ID           `db:"owner_id" json:"ownerId"`
	EntityType        string          `db:"entity_type" json:"entityType"`
	EntityID          id.ID           `db:"entity_id" json:"entityId"`
	Action            string          `db:"action" json:"action"`
	ActorID           string          `db:"actor_id" json:"actorId,omitempty"`
	Source            string          `db:"source" json:"source,omitempty"`
	Changes           json.RawMessage `db:"changes" json:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed" json:"-"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo" json:"compressionAlgo"`
	CreatedAt         time.Time       `db:"created_at" json:"createdAt"`
}

// AuditLog writes the stock mutation trail to sys_audit_log.
// It satisfies stock.AuditLogger.
type AuditLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditLog creates an audit log. A threshold <= 0 uses DefaultCompressThreshold.
func NewAuditLog(txManager *TxManager, threshold int) (*AuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &AuditLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: threshold,
	}, nil
}

// Compress prepares entry for storage: payloads above the threshold move
// to ChangesCompressed.
func (s *AuditLog) Compress(entry *AuditEntry) {
	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) > s.compressThreshold {
		entry.ChangesCompressed = s.encoder.EncodeAll(entry.Changes, nil)
		entry.Changes = nil
		entry.CompressionAlgo = CompressionZstd
	}
}

// Decompress restores Changes of an entry read from storage.
func (s *AuditLog) Decompress(entry *AuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := s.decoder.DecodeAll(entry.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	entry.Changes = raw
	entry.ChangesCompressed = nil
	return nil
}

// Log records an audit entry.
func (s *AuditLog) Log(ctx context.Context, entry AuditEntry) error {
	if acc := appctx.GetAccount(ctx); acc != nil {
		if entry.ActorID == "" {
			entry.ActorID = acc.ActorID
		}
		if entry.Source == "" {
			entry.Source = acc.Source
		}
		if id.IsNil(entry.OwnerID) {
			if owner, err := id.Parse(acc.AccountID); err == nil {
				entry.OwnerID = owner
			}
		}
	}
	if id.IsNil(entry.ID) {
		entry.ID = id.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.Compress(&entry)

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit_log (
			id, owner_id, entity_type, entity_id, action, actor_id, source,
			changes, changes_compressed, compression_algo, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		entry.ID, entry.OwnerID, entry.EntityType, entry.EntityID, entry.Action,
		entry.ActorID, entry.Source,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// LogChange records one mutation of entityID.
func (s *AuditLog) LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error {
	raw, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	entry := AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    raw,
	}
	if owner, ok := changes["owner_id"].(id.ID); ok {
		entry.OwnerID = owner
	}
	return s.Log(ctx, entry)
}

// History returns the newest entries of an entity, decompressed.
func (s *AuditLog) History(ctx context.Context, owner, entityID id.ID, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, `
		SELECT id, owner_id, entity_type, entity_id, action, actor_id, source,
		       changes, changes_compressed, compression_algo, created_at
		FROM sys_audit_log
		WHERE owner_id = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, owner, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		err := rows.Scan(
			&e.ID, &e.OwnerID, &e.EntityType, &e.EntityID, &e.Action, &e.ActorID, &e.Source,
			&e.Changes, &e.ChangesCompressed, &e.CompressionAlgo, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := s.Decompress(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
