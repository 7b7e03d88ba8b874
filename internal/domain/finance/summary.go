package finance

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"larder/internal/core/id"
	"larder/pkg/logger"
)

// Summary is the owner's all-time income and expense totals.
type Summary struct {
	OwnerID      id.ID           `json:"ownerId"`
	Income       decimal.Decimal `json:"income"`
	Expense      decimal.Decimal `json:"expense"`
	Net          decimal.Decimal `json:"net"`
	Transactions int64           `json:"transactions"`
}

// SummaryRepository computes totals over financial transactions.
type SummaryRepository interface {
	Totals(ctx context.Context, owner id.ID) (Summary, error)
}

// SummaryCache stores computed read models per owner.
// A miss is reported with ok=false and no error.
type SummaryCache interface {
	Get(ctx context.Context, owner id.ID, key string, dst any) (ok bool, err error)
	Set(ctx context.Context, owner id.ID, key string, value any) error
}

// SummaryService serves the financial summary through a read-through cache.
// Entries are dropped by the synchronizer under KeyFinancialSummary.
type SummaryService struct {
	repo  SummaryRepository
	cache SummaryCache
}

// NewSummaryService creates a summary service. cache may be nil.
func NewSummaryService(repo SummaryRepository, cache SummaryCache) *SummaryService {
	return &SummaryService{repo: repo, cache: cache}
}

// Get returns the owner's summary.
func (s *SummaryService) Get(ctx context.Context, owner id.ID) (Summary, error) {
	if s.cache != nil {
		var cached Summary
		ok, err := s.cache.Get(ctx, owner, KeyFinancialSummary, &cached)
		if err != nil {
			logger.Warn(ctx, "summary cache read failed", "owner_id", owner, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	sum, err := s.repo.Totals(ctx, owner)
	if err != nil {
		return Summary{}, fmt.Errorf("compute financial summary: %w", err)
	}
	sum.OwnerID = owner
	sum.Net = sum.Income.Sub(sum.Expense)

	if s.cache != nil {
		if err := s.cache.Set(ctx, owner, KeyFinancialSummary, sum); err != nil {
			logger.Warn(ctx, "summary cache write failed", "owner_id", owner, "error", err)
		}
	}
	return sum, nil
}
