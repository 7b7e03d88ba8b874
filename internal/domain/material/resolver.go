package material

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"larder/internal/core/apperror"
	"larder/internal/core/id"
	"larder/pkg/logger"
)

// DefaultMaxAttempts bounds the create-with-retry loop.
const DefaultMaxAttempts = 3

// MatchKind says how a line item got its raw material reference.
type MatchKind string

const (
	MatchReference    MatchKind = "reference"     // line already carried an id
	MatchNameSupplier MatchKind = "name_supplier" // name+unit+supplier
	MatchName         MatchKind = "name"          // name+unit, supplier ignored
	MatchCreated      MatchKind = "created"       // new row inserted
	MatchWinner       MatchKind = "winner"        // concurrent insert won, its id adopted
)

// Candidate is the part of a purchase line item the resolver looks at.
type Candidate struct {
	RawMaterialID *id.ID
	Name          string
	Unit          string
	UnitPrice     decimal.Decimal
}

// Resolution is the outcome for one resolved line item.
type Resolution struct {
	RawMaterialID id.ID
	MatchedBy     MatchKind
	Material      *RawMaterial // nil for MatchReference
}

// LineResolution is the per-line report of ResolveAll.
// Unresolved lines carry Err and leave the line item unchanged.
type LineResolution struct {
	Index         int                `json:"index"`
	Name          string             `json:"name"`
	Resolved      bool               `json:"resolved"`
	RawMaterialID *id.ID             `json:"rawMaterialId,omitempty"`
	MatchedBy     MatchKind          `json:"matchedBy,omitempty"`
	Err           *apperror.AppError `json:"error,omitempty"`
}

// ResolverMetrics receives resolver counters.
type ResolverMetrics interface {
	ResolverCreated()
	ResolverConflict()
}

type nopMetrics struct{}

func (nopMetrics) ResolverCreated()  {}
func (nopMetrics) ResolverConflict() {}

// Resolver finds or creates the RawMaterial matching a purchase line item.
type Resolver struct {
	repo        Repository
	maxAttempts int
	metrics     ResolverMetrics
}

// ResolverOption configures Resolver.
type ResolverOption func(*Resolver)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithResolverMetrics attaches counters.
func WithResolverMetrics(m ResolverMetrics) ResolverOption {
	return func(r *Resolver) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewResolver creates a new resolver.
func NewResolver(repo Repository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:        repo,
		maxAttempts: DefaultMaxAttempts,
		metrics:     nopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the raw material reference for c.
//
// Order: existing reference, then catalog match on name+unit+supplier, then
// name+unit, then create. Creation never errors on a uniqueness conflict: the
// stored winner's id is adopted. When every attempt fails the returned error
// is RESOLUTION_EXHAUSTED.
func (r *Resolver) Resolve(ctx context.Context, owner id.ID, c Candidate, supplier string, catalog []*RawMaterial) (Resolution, error) {
	if c.RawMaterialID != nil && !id.IsNil(*c.RawMaterialID) {
		return Resolution{RawMaterialID: *c.RawMaterialID, MatchedBy: MatchReference}, nil
	}

	if SupplierKey(supplier) != "" {
		if m := findInCatalog(catalog, c.Name, c.Unit, supplier); m != nil {
			return Resolution{RawMaterialID: m.ID, MatchedBy: MatchNameSupplier, Material: m}, nil
		}
	}
	if m := findInCatalog(catalog, c.Name, c.Unit, ""); m != nil {
		return Resolution{RawMaterialID: m.ID, MatchedBy: MatchName, Material: m}, nil
	}

	return r.create(ctx, owner, c, supplier)
}

func (r *Resolver) create(ctx context.Context, owner id.ID, c Candidate, supplier string) (Resolution, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}

		candidate := NewRawMaterial(owner, c.Name, c.Unit, c.UnitPrice, supplier)
		if err := candidate.Validate(ctx); err != nil {
			return Resolution{}, apperror.NewResolutionExhausted(c.Name, attempt).WithCause(err)
		}

		stored, created, err := r.repo.InsertIfAbsent(ctx, candidate)
		if err == nil {
			if created {
				r.metrics.ResolverCreated()
				logger.Debug(ctx, "raw material created", "raw_material_id", stored.ID, "name", stored.Name, "unit", stored.Unit)
				return Resolution{RawMaterialID: stored.ID, MatchedBy: MatchCreated, Material: stored}, nil
			}
			r.metrics.ResolverConflict()
			return Resolution{RawMaterialID: stored.ID, MatchedBy: MatchWinner, Material: stored}, nil
		}

		lastErr = err
		if apperror.IsDuplicate(err) {
			r.metrics.ResolverConflict()
			winner, ferr := r.repo.FindByKey(ctx, owner, c.Name, candidate.Unit, supplier)
			if ferr == nil {
				return Resolution{RawMaterialID: winner.ID, MatchedBy: MatchWinner, Material: winner}, nil
			}
			lastErr = fmt.Errorf("re-query winner: %w", ferr)
		}

		logger.Warn(ctx, "raw material create attempt failed",
			"name", c.Name, "attempt", attempt, "max_attempts", r.maxAttempts, "error", lastErr)
	}

	return Resolution{}, apperror.NewResolutionExhausted(c.Name, r.maxAttempts).WithCause(lastErr)
}

// ResolveAll resolves every candidate against the owner's current catalog.
// Rows created for earlier lines are visible to later ones, so two lines
// naming the same new material share one row.
//
// Per-line failures are reported in the result, never as the returned error;
// the error is reserved for failing to load the catalog or a cancelled ctx.
func (r *Resolver) ResolveAll(ctx context.Context, owner id.ID, candidates []Candidate, supplier string) ([]LineResolution, error) {
	catalog, err := r.repo.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load raw material catalog: %w", err)
	}

	out := make([]LineResolution, len(candidates))
	for i, c := range candidates {
		out[i] = LineResolution{Index: i, Name: c.Name}

		res, err := r.Resolve(ctx, owner, c, supplier, catalog)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			appErr, ok := apperror.AsAppError(err)
			if !ok {
				appErr = apperror.NewResolutionExhausted(c.Name, r.maxAttempts).WithCause(err)
			}
			out[i].Err = appErr
			continue
		}

		rid := res.RawMaterialID
		out[i].Resolved = true
		out[i].RawMaterialID = &rid
		out[i].MatchedBy = res.MatchedBy
		if res.Material != nil && (res.MatchedBy == MatchCreated || res.MatchedBy == MatchWinner) {
			catalog = append(catalog, res.Material)
		}
	}
	return out, nil
}

// Unresolved returns the failed entries of a report.
func Unresolved(report []LineResolution) []LineResolution {
	var out []LineResolution
	for _, lr := range report {
		if !lr.Resolved {
			out = append(out, lr)
		}
	}
	return out
}

func findInCatalog(catalog []*RawMaterial, name, unit, supplier string) *RawMaterial {
	for _, m := range catalog {
		if m.Matches(name, unit, supplier) {
			return m
		}
	}
	return nil
}
