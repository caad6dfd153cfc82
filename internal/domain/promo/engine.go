package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageRecord is an immutable ledger entry: one redemption of one code
// against one order. At most one record exists per (code, order).
type UsageRecord struct {
	ID            string
	CodeID        string
	UserID        string
	OrderID       string
	AppliedAmount decimal.Decimal
	UsedAt        time.Time
}

// TxQuerier is the view of storage available inside the redemption
// transaction: authoritative, uncached code reads plus ledger reads.
type TxQuerier interface {
	CodeReader
	LedgerReader
}

// RevalidateFunc re-runs the full validation against transaction-bound state
// and returns the reduction to record. Returning an error aborts the
// transaction without writing.
type RevalidateFunc func(ctx context.Context, q TxQuerier) (decimal.Decimal, error)

// Ledger is the usage ledger: pre-flight reads plus the single write path.
//
// Redeem must be atomic with respect to concurrent redemptions of the same
// code: the revalidation and the insert happen in one transaction at an
// isolation level that prevents write skew. When a record already exists for
// (rec.CodeID, rec.OrderID), implementations return that record unchanged
// and skip revalidation — redemption is idempotent per order.
type Ledger interface {
	LedgerReader
	Redeem(ctx context.Context, rec UsageRecord, revalidate RevalidateFunc) (*UsageRecord, error)
}

// Evaluation is the priced preview returned by Evaluate.
type Evaluation struct {
	Code          string
	EligibleItems []LineItem
	Subtotal      decimal.Decimal
	Reduction     decimal.Decimal
	FinalAmount   decimal.Decimal
}

// Redemption is the durable outcome of Redeem.
type Redemption struct {
	UsageRecordID string
	AppliedAmount decimal.Decimal
	// Replayed is true when this call matched a previously recorded
	// redemption for the same order instead of writing a new one.
	Replayed bool
}

// Engine composes the resolver, scope matcher, limit enforcer, calculator,
// and ledger into the two public operations.
type Engine struct {
	codes  CodeReader
	ledger Ledger
	loc    *time.Location
	now    func() time.Time
}

// NewEngine creates an Engine. codes may be a cached reader; Redeem never
// trusts it and re-reads the code inside the ledger transaction. loc is the
// time zone for daily-limit windows (nil means server local).
func NewEngine(codes CodeReader, ledger Ledger, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		codes:  codes,
		ledger: ledger,
		loc:    loc,
		now:    time.Now,
	}
}

// Evaluate returns a priced preview of applying the code to the purchase.
// Read-only; safe to call repeatedly as the cart changes. The limit check
// here is a pre-flight hint — only Redeem's transactional check is
// authoritative.
func (e *Engine) Evaluate(ctx context.Context, raw string, pc PurchaseContext) (*Evaluation, error) {
	now := e.now()

	c, err := Resolve(ctx, e.codes, raw, now)
	if err != nil {
		return nil, err
	}

	elig, err := MatchScope(c, pc)
	if err != nil {
		return nil, err
	}

	if err := CheckLimit(ctx, e.ledger, c, pc.BuyerID, now, e.loc); err != nil {
		return nil, err
	}

	quote, err := Calculate(c, elig.Subtotal)
	if err != nil {
		return nil, err
	}

	return &Evaluation{
		Code:          c.Code,
		EligibleItems: elig.Items,
		Subtotal:      quote.Subtotal,
		Reduction:     quote.Reduction,
		FinalAmount:   quote.Final,
	}, nil
}

// Redeem durably consumes one use of the code against the order. The only
// mutating entry point. Validation runs twice: once up front to fail fast,
// and again inside the ledger transaction against authoritative rows, where
// the applied amount is recomputed from the fresh code before the insert.
// Calling Redeem again with the same orderID returns the original record.
func (e *Engine) Redeem(ctx context.Context, raw string, pc PurchaseContext, orderID string) (*Redemption, error) {
	if orderID == "" {
		return nil, errors.New("order id required")
	}
	if pc.BuyerID == "" {
		return nil, errors.New("buyer id required")
	}

	now := e.now()

	c, err := Resolve(ctx, e.codes, raw, now)
	if err != nil {
		return nil, err
	}
	elig, err := MatchScope(c, pc)
	if err != nil {
		return nil, err
	}
	quote, err := Calculate(c, elig.Subtotal)
	if err != nil {
		return nil, err
	}

	rec := UsageRecord{
		ID:            uuid.New().String(),
		CodeID:        c.ID,
		UserID:        pc.BuyerID,
		OrderID:       orderID,
		AppliedAmount: quote.Reduction,
		UsedAt:        now,
	}

	stored, err := e.ledger.Redeem(ctx, rec, func(ctx context.Context, q TxQuerier) (decimal.Decimal, error) {
		fresh, err := Resolve(ctx, q, raw, now)
		if err != nil {
			return decimal.Zero, err
		}
		elig, err := MatchScope(fresh, pc)
		if err != nil {
			return decimal.Zero, err
		}
		quote, err := Calculate(fresh, elig.Subtotal)
		if err != nil {
			return decimal.Zero, err
		}
		if err := CheckLimit(ctx, q, fresh, pc.BuyerID, now, e.loc); err != nil {
			return decimal.Zero, err
		}
		return quote.Reduction, nil
	})
	if err != nil {
		return nil, err
	}

	return &Redemption{
		UsageRecordID: stored.ID,
		AppliedAmount: stored.AppliedAmount,
		Replayed:      stored.ID != rec.ID,
	}, nil
}
