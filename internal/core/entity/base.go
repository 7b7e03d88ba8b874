// Package entity provides core domain entities.
package entity

import (
	"context"
	"time"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
)

// Validatable is implemented by entities that support self-validation.
// Validation checks internal invariants (without database access).
type Validatable interface {
	// Validate checks entity invariants.
	// Returns nil if valid, AppError with details otherwise.
	Validate(ctx context.Context) error
}

// OwnedEntity contains the fields shared by every ledger row.
// Each row belongs to exactly one account; repositories filter by OwnerID
// on every statement.
type OwnedEntity struct {
	// ID is the primary key (UUIDv7)
	ID id.ID `db:"id" json:"id"`

	// OwnerID is the owning account
	OwnerID id.ID `db:"owner_id" json:"ownerId"`

	// Version for optimistic locking (incremented on each update)
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewOwnedEntity creates a new OwnedEntity with generated ID and timestamps.
func NewOwnedEntity(owner id.ID) OwnedEntity {
	now := time.Now().UTC()
	return OwnedEntity{
		ID:        id.New(),
		OwnerID:   owner,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch updates the UpdatedAt timestamp and increments version.
func (e *OwnedEntity) Touch() {
	e.UpdatedAt = time.Now().UTC()
	e.Version++
}

// ValidateOwner ensures the row is scoped to an account.
func (e *OwnedEntity) ValidateOwner() error {
	if id.IsNil(e.OwnerID) {
		return apperror.NewValidation("owner is required").
			WithDetail("field", "ownerId")
	}
	return nil
}

// BelongsTo reports whether the row is owned by owner.
func (e *OwnedEntity) BelongsTo(owner id.ID) bool {
	return e.OwnerID == owner
}
