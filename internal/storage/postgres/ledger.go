package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edulane/promo-engine/internal/domain/promo"
)

const (
	countUsesSQL = `SELECT COUNT(*) FROM usage_records WHERE code_id = $1`

	countUsesBetweenSQL = `SELECT COUNT(*) FROM usage_records
		WHERE code_id = $1 AND used_at >= $2 AND used_at < $3`

	userHasUsedSQL = `SELECT EXISTS (
		SELECT 1 FROM usage_records WHERE code_id = $1 AND user_id = $2)`

	findUsageByOrderSQL = `SELECT id, code_id, user_id, order_id, applied_amount, used_at
		FROM usage_records WHERE code_id = $1 AND order_id = $2`

	insertUsageSQL = `INSERT INTO usage_records (id, code_id, user_id, order_id, applied_amount, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// CountUses returns the total number of redemptions recorded for the code.
func (q queries) CountUses(ctx context.Context, codeID string) (int, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countUsesSQL, codeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of code %s: %w", codeID, err)
	}
	return int(n), nil
}

// CountUsesBetween returns the number of redemptions recorded for the code
// in the half-open interval [from, to).
func (q queries) CountUsesBetween(ctx context.Context, codeID string, from, to time.Time) (int, error) {
	var n int64
	if err := q.db.QueryRow(ctx, countUsesBetweenSQL, codeID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of code %s in window: %w", codeID, err)
	}
	return int(n), nil
}

// UserHasUsed reports whether the user has any redemption of the code on record.
func (q queries) UserHasUsed(ctx context.Context, codeID, userID string) (bool, error) {
	var used bool
	if err := q.db.QueryRow(ctx, userHasUsedSQL, codeID, userID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking prior use of code %s: %w", codeID, err)
	}
	return used, nil
}

func (q queries) findUsageByOrder(ctx context.Context, codeID, orderID string) (*promo.UsageRecord, error) {
	rows, err := q.db.Query(ctx, findUsageByOrderSQL, codeID, orderID)
	if err != nil {
		return nil, fmt.Errorf("finding usage for order %s: %w", orderID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[promo.UsageRecord])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("finding usage for order %s: %w", orderID, err)
	}
	return &rec, nil
}

var _ promo.Ledger = (*Ledger)(nil)

// Ledger implements the usage ledger backed by PostgreSQL. Redeem runs at
// SERIALIZABLE isolation so concurrent redemptions of a nearly exhausted
// code cannot both pass the limit check.
type Ledger struct {
	pool      *pgxpool.Pool
	q         queries
	txTimeout time.Duration
}

// NewLedger returns a Ledger over the given pool. txTimeout bounds each
// redemption transaction; zero means no bound.
func NewLedger(pool *pgxpool.Pool, txTimeout time.Duration) *Ledger {
	return &Ledger{pool: pool, q: queries{db: pool}, txTimeout: txTimeout}
}

// CountUses implements promo.LedgerReader outside a transaction.
func (l *Ledger) CountUses(ctx context.Context, codeID string) (int, error) {
	return l.q.CountUses(ctx, codeID)
}

// CountUsesBetween implements promo.LedgerReader outside a transaction.
func (l *Ledger) CountUsesBetween(ctx context.Context, codeID string, from, to time.Time) (int, error) {
	return l.q.CountUsesBetween(ctx, codeID, from, to)
}

// UserHasUsed implements promo.LedgerReader outside a transaction.
func (l *Ledger) UserHasUsed(ctx context.Context, codeID, userID string) (bool, error) {
	return l.q.UserHasUsed(ctx, codeID, userID)
}

// Redeem inserts one usage record after re-running validation inside a
// serializable transaction. A record already present for (CodeID, OrderID)
// is returned as-is without revalidation. One serialization retry is
// attempted before giving up; a loser of the retry is reported as the
// limit being exhausted, since that is what the surviving state implies.
func (l *Ledger) Redeem(ctx context.Context, rec promo.UsageRecord, revalidate promo.RevalidateFunc) (*promo.UsageRecord, error) {
	if l.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.txTimeout)
		defer cancel()
	}

	for attempt := 0; ; attempt++ {
		stored, err := l.redeemOnce(ctx, rec, revalidate)
		if err == nil {
			return stored, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, promo.ErrServerBusy
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				// Another call for the same order committed first;
				// hand back its record.
				return l.q.findUsageByOrder(ctx, rec.CodeID, rec.OrderID)
			case serializationFailure, deadlockDetected:
				if attempt == 0 {
					continue
				}
				return nil, promo.ErrUsageLimitExceeded
			}
		}
		return nil, err
	}
}

func (l *Ledger) redeemOnce(ctx context.Context, rec promo.UsageRecord, revalidate promo.RevalidateFunc) (*promo.UsageRecord, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("beginning redemption tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	txq := queries{db: tx}

	existing, err := txq.findUsageByOrder(ctx, rec.CodeID, rec.OrderID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, err
	}

	amount, err := revalidate(ctx, txq)
	if err != nil {
		return nil, err
	}
	rec.AppliedAmount = amount

	if _, err := tx.Exec(ctx, insertUsageSQL,
		rec.ID, rec.CodeID, rec.UserID, rec.OrderID, rec.AppliedAmount, rec.UsedAt,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &rec, nil
}
