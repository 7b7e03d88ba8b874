package document_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"larder/internal/core/id"
	"larder/internal/domain/purchase"
	"larder/internal/infrastructure/storage/postgres"
)

const (
	purchasesTable     = "purchases"
	purchaseLinesTable = "purchase_lines"
)

var purchaseLineColumns = postgres.ExtractDBColumns[purchase.LineItem]()

var _ purchase.Repository = (*PurchaseRepo)(nil)

// PurchaseRepo implements purchase.Repository.
type PurchaseRepo struct {
	*BaseDocumentRepo[*purchase.Purchase]
}

// NewPurchaseRepo creates a new purchase repository.
func NewPurchaseRepo(txm *postgres.TxManager) *PurchaseRepo {
	return &PurchaseRepo{
		BaseDocumentRepo: NewBaseDocumentRepo(txm, purchasesTable,
			postgres.ExtractDBColumns[purchase.Purchase](),
			func() *purchase.Purchase { return &purchase.Purchase{} }),
	}
}

// GetByID implements purchase.Repository.
func (r *PurchaseRepo) GetByID(ctx context.Context, owner, purchaseID id.ID) (*purchase.Purchase, error) {
	return r.load(ctx, owner, purchaseID, false)
}

// GetForUpdate implements purchase.Repository.
func (r *PurchaseRepo) GetForUpdate(ctx context.Context, owner, purchaseID id.ID) (*purchase.Purchase, error) {
	return r.load(ctx, owner, purchaseID, true)
}

func (r *PurchaseRepo) load(ctx context.Context, owner, purchaseID id.ID, forUpdate bool) (*purchase.Purchase, error) {
	p, err := r.getHeader(ctx, owner, purchaseID, forUpdate)
	if err != nil {
		return nil, err
	}
	lines, err := selectLines[purchase.LineItem](ctx, r.querier(ctx), purchaseLinesTable, "purchase_id", purchaseLineColumns, p.ID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		lines[i].SchemaVersion = purchase.LineSchemaVersion
	}
	p.Lines = lines
	return p, nil
}

// Create implements purchase.Repository.
func (r *PurchaseRepo) Create(ctx context.Context, p *purchase.Purchase) error {
	if err := r.insertHeader(ctx, p); err != nil {
		return err
	}
	if len(p.Lines) == 0 {
		return nil
	}

	sql, args, err := r.insertLinesQuery(p).ToSql()
	if err != nil {
		return fmt.Errorf("build insert lines: %w", err)
	}
	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return postgres.MapError(fmt.Errorf("insert purchase lines: %w", err), purchaseLinesTable)
	}
	return nil
}

// SaveLineRefs implements purchase.Repository. Only resolved lines are
// written; a reference is never cleared.
func (r *PurchaseRepo) SaveLineRefs(ctx context.Context, p *purchase.Purchase) error {
	var (
		lineNos []int
		refs    []string
	)
	for _, l := range p.Lines {
		if l.Resolved() {
			lineNos = append(lineNos, l.LineNo)
			refs = append(refs, l.RawMaterialID.String())
		}
	}
	if len(lineNos) == 0 {
		return nil
	}

	_, err := r.querier(ctx).Exec(ctx, `
		UPDATE purchase_lines AS pl
		SET raw_material_id = v.raw_material_id
		FROM unnest($1::int[], $2::uuid[]) AS v(line_no, raw_material_id), purchases AS p
		WHERE pl.purchase_id = p.id
		  AND p.id = $3 AND p.owner_id = $4
		  AND pl.line_no = v.line_no
	`, lineNos, refs, p.ID, p.OwnerID)
	if err != nil {
		return postgres.MapError(fmt.Errorf("save line refs: %w", err), purchaseLinesTable)
	}
	return nil
}

// UpdateStatus implements purchase.Repository.
func (r *PurchaseRepo) UpdateStatus(ctx context.Context, p *purchase.Purchase) error {
	return r.execUpdate(ctx, r.updateStatusQuery(p), p.ID)
}

func (r *PurchaseRepo) insertLinesQuery(p *purchase.Purchase) squirrel.InsertBuilder {
	q := r.Builder().
		Insert(purchaseLinesTable).
		Columns(append([]string{"purchase_id"}, purchaseLineColumns...)...)
	for _, l := range p.Lines {
		q = q.Values(append([]any{p.ID}, postgres.StructValues(l, purchaseLineColumns)...)...)
	}
	return q
}

func (r *PurchaseRepo) updateStatusQuery(p *purchase.Purchase) squirrel.UpdateBuilder {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	return r.Builder().
		Update(purchasesTable).
		Set("status", p.Status).
		Set("applied_at", p.AppliedAt).
		Set("updated_at", updatedAt).
		Set("version", squirrel.Expr("version + 1")).
		Where(squirrel.Eq{"owner_id": p.OwnerID}).
		Where(squirrel.Eq{"id": p.ID})
}
