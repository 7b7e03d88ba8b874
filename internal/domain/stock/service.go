package stock

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/entity"
	"larder/internal/core/id"
	"larder/pkg/logger"
)

// AuditLogger stores a snapshot of what a lifecycle event did to stock.
type AuditLogger interface {
	LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error
}

// Service provides business operations for the stock register.
// Transactions are managed by the caller (costing and fulfillment engines).
type Service struct {
	repo  Repository
	audit AuditLogger
}

// NewService creates a new stock register service. audit may be nil.
func NewService(repo Repository, audit AuditLogger) *Service {
	return &Service{
		repo:  repo,
		audit: audit,
	}
}

// RecordMovements records the movements of one lifecycle event.
// Must be called inside the transaction that mutates the raw material rows.
func (s *Service) RecordMovements(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	recorderID := movements[0].RecorderID
	for i, m := range movements {
		if !m.Quantity.IsPositive() {
			return apperror.NewValidation(fmt.Sprintf("movement %d: quantity must be positive", i))
		}
		if id.IsNil(m.RecorderID) {
			return apperror.NewValidation(fmt.Sprintf("movement %d: recorder_id is required", i))
		}
		if m.RecorderID != recorderID {
			return apperror.NewValidation(fmt.Sprintf("movement %d: mixed recorders in one batch", i))
		}
	}

	if err := s.repo.CreateMovements(ctx, movements); err != nil {
		return fmt.Errorf("create movements: %w", err)
	}

	if s.audit != nil {
		lines := make([]map[string]any, 0, len(movements))
		for _, m := range movements {
			lines = append(lines, map[string]any{
				"raw_material_id": m.RawMaterialID,
				"record_type":     m.RecordType,
				"quantity":        m.Quantity.String(),
				"unit_cost":       m.UnitCost.String(),
			})
		}
		err := s.audit.LogChange(ctx, movements[0].RecorderType, recorderID, string(movements[0].RecordType),
			map[string]any{"owner_id": movements[0].OwnerID, "movements": lines})
		if err != nil {
			return fmt.Errorf("audit movements: %w", err)
		}
	}

	logger.Info(ctx, "recorded stock movements",
		"count", len(movements),
		"recorder_id", recorderID,
		"recorder_type", movements[0].RecorderType,
	)

	return nil
}

// NetByRecorder returns the signed quantity per raw material that a
// purchase or order has moved so far.
func (s *Service) NetByRecorder(ctx context.Context, owner, recorderID id.ID) (map[id.ID]decimal.Decimal, error) {
	movements, err := s.repo.GetMovementsByRecorder(ctx, owner, recorderID)
	if err != nil {
		return nil, fmt.Errorf("get movements: %w", err)
	}
	out := make(map[id.ID]decimal.Decimal)
	for i := range movements {
		m := &movements[i]
		out[m.RawMaterialID] = out[m.RawMaterialID].Add(m.SignedQuantity())
	}
	return out, nil
}

// History returns movement history for a raw material.
func (s *Service) History(ctx context.Context, owner, rawMaterialID id.ID, filter MovementFilter) ([]entity.StockMovement, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return s.repo.GetMovementHistory(ctx, owner, rawMaterialID, filter)
}

// Turnover returns receipt/expense totals for the period.
func (s *Service) Turnover(ctx context.Context, owner id.ID, filter TurnoverFilter) (Turnover, error) {
	if filter.ToDate.Before(filter.FromDate) {
		return Turnover{}, apperror.NewValidation("period end before start")
	}
	return s.repo.GetTurnover(ctx, owner, filter)
}
