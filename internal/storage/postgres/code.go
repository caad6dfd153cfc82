package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/edulane/promo-engine/internal/domain/promo"
)

const (
	// Resolution needs inactive and out-of-window rows too, so the
	// lookup carries no active or validity filter.
	findCodeSQL = `SELECT id, code, title, description, kind, value, scope, applies_to,
		target_ids, minimum_amount, maximum_amount, limit_kind, limit_n,
		valid_from, valid_until, active, author_id, author_scope
		FROM discount_codes WHERE UPPER(code) = UPPER($1)`

	insertCodeSQL = `INSERT INTO discount_codes (id, code, title, description, kind, value,
		scope, applies_to, target_ids, minimum_amount, maximum_amount, limit_kind, limit_n,
		valid_from, valid_until, active, author_id, author_scope)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	updateCodeSQL = `UPDATE discount_codes SET title = $2, description = $3, kind = $4,
		value = $5, scope = $6, applies_to = $7, target_ids = $8, minimum_amount = $9,
		maximum_amount = $10, limit_kind = $11, limit_n = $12, valid_from = $13,
		valid_until = $14, active = $15
		WHERE UPPER(code) = UPPER($1)`

	uniqueViolation = "23505"
)

// dbtx is the subset of pgxpool.Pool and pgx.Tx the queries use.
type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// queries implements promo.TxQuerier over either a pool or an open
// transaction. The ledger hands a tx-bound instance to revalidation.
type queries struct {
	db dbtx
}

var _ promo.TxQuerier = queries{}

// FindByCode looks up a code by its normalized form, case-insensitively.
// Returns promo.ErrCodeNotFound when no row matches.
func (q queries) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := q.db.Query(ctx, findCodeSQL, promo.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}
	return &c, nil
}

func scanCode(row pgx.CollectableRow) (promo.Code, error) {
	var (
		c           promo.Code
		kind        string
		scope       string
		appliesTo   string
		limitKind   string
		limitN      int32
		minAmount   *decimal.Decimal
		maxAmount   *decimal.Decimal
		validFrom   *time.Time
		validUntil  *time.Time
		authorScope string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Title, &c.Description, &kind, &c.Value, &scope, &appliesTo,
		&c.TargetIDs, &minAmount, &maxAmount, &limitKind, &limitN,
		&validFrom, &validUntil, &c.Active, &c.AuthorID, &authorScope,
	)
	c.Kind = promo.Kind(kind)
	c.Scope = promo.ScopeKind(scope)
	c.AppliesTo = promo.AppliesTo(appliesTo)
	c.Limit = promo.LimitPolicy{Kind: promo.LimitKind(limitKind), N: int(limitN)}
	c.MinimumAmount = minAmount
	c.MaximumAmount = maxAmount
	c.ValidFrom = validFrom
	c.ValidUntil = validUntil
	c.AuthorScope = promo.AuthorScope(authorScope)
	return c, err
}

var _ promo.CodeReader = (*CodeRepository)(nil)

// CodeRepository implements code lookup and authoring backed by PostgreSQL.
type CodeRepository struct {
	q queries
}

// NewCodeRepository returns a CodeRepository that uses the given pool.
func NewCodeRepository(pool *pgxpool.Pool) *CodeRepository {
	return &CodeRepository{q: queries{db: pool}}
}

// FindByCode looks up a code by its normalized form.
func (r *CodeRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	return r.q.FindByCode(ctx, code)
}

// Create inserts a new code. Returns promo.ErrCodeExists when a code
// with the same normalized form already exists.
func (r *CodeRepository) Create(ctx context.Context, c *promo.Code) error {
	_, err := r.q.db.Exec(ctx, insertCodeSQL,
		c.ID, promo.Normalize(c.Code), c.Title, c.Description, string(c.Kind), c.Value,
		string(c.Scope), string(c.AppliesTo), c.TargetIDs, c.MinimumAmount, c.MaximumAmount,
		string(c.Limit.Kind), int32(c.Limit.N), c.ValidFrom, c.ValidUntil, c.Active,
		c.AuthorID, string(c.AuthorScope),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return promo.ErrCodeExists
		}
		return fmt.Errorf("creating code %q: %w", c.Code, err)
	}
	return nil
}

// Update replaces the mutable fields of an existing code. The author
// columns are immutable after create. Returns promo.ErrCodeNotFound when
// the code does not exist.
func (r *CodeRepository) Update(ctx context.Context, c *promo.Code) error {
	tag, err := r.q.db.Exec(ctx, updateCodeSQL,
		promo.Normalize(c.Code), c.Title, c.Description, string(c.Kind), c.Value,
		string(c.Scope), string(c.AppliesTo), c.TargetIDs, c.MinimumAmount, c.MaximumAmount,
		string(c.Limit.Kind), int32(c.Limit.N), c.ValidFrom, c.ValidUntil, c.Active,
	)
	if err != nil {
		return fmt.Errorf("updating code %q: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return promo.ErrCodeNotFound
	}
	return nil
}
