package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulane/promo-engine/internal/domain/catalog"
)

const (
	listItemsSQL = `SELECT id, kind, name, unit_amount, category_ids, owner_id
		FROM catalog_items ORDER BY id`

	getItemsByIDsSQL = `SELECT id, kind, name, unit_amount, category_ids, owner_id
		FROM catalog_items WHERE id = ANY($1)`

	ownedCourseIDsSQL = `SELECT id FROM catalog_items
		WHERE kind = 'course' AND owner_id = $1 ORDER BY id`

	upsertItemSQL = `INSERT INTO catalog_items (id, kind, name, unit_amount, category_ids, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, name = EXCLUDED.name,
			unit_amount = EXCLUDED.unit_amount, category_ids = EXCLUDED.category_ids,
			owner_id = EXCLUDED.owner_id`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns every catalog item.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("listing catalog: %w", err)
	}
	return items, nil
}

// GetByIDs returns the items with the given ids; missing ids are simply absent.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getItemsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting catalog items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("getting catalog items: %w", err)
	}
	return items, nil
}

// OwnedCourseIDs lists the course ids owned by the given author.
func (r *CatalogRepository) OwnedCourseIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, ownedCourseIDsSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing courses of %s: %w", ownerID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing courses of %s: %w", ownerID, err)
	}
	return ids, nil
}

// Upsert inserts or replaces the given items.
func (r *CatalogRepository) Upsert(ctx context.Context, items []catalog.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(upsertItemSQL, it.ID, string(it.Kind), it.Name, it.UnitAmount, it.CategoryIDs, it.OwnerID)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d catalog items: %w", len(items), err)
	}
	return nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		it   catalog.Item
		kind string
	)
	err := row.Scan(&it.ID, &kind, &it.Name, &it.UnitAmount, &it.CategoryIDs, &it.OwnerID)
	it.Kind = catalog.ItemKind(kind)
	return it, err
}
