// Package promo implements the discount code engine: resolving codes,
// matching them against a purchase, enforcing usage limits, computing
// reductions, and recording redemptions exactly once per order.
package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercent reduces the eligible subtotal by a percentage of its value.
	KindPercent Kind = "percent"
	// KindFixed reduces the eligible subtotal by a fixed amount, capped at the subtotal.
	KindFixed Kind = "fixed"
)

// ScopeKind determines which line items of a purchase a code can discount.
type ScopeKind string

const (
	ScopeAll           ScopeKind = "all"
	ScopeCourses       ScopeKind = "specific_courses"
	ScopeProducts      ScopeKind = "specific_products"
	ScopeCategories    ScopeKind = "categories"
	ScopeFirstPurchase ScopeKind = "first_purchase"
	ScopeMinimumAmount ScopeKind = "minimum_amount"
)

// AppliesTo restricts a code's scope to courses, products, or both.
type AppliesTo string

const (
	AppliesCourses  AppliesTo = "courses"
	AppliesProducts AppliesTo = "products"
	AppliesBoth     AppliesTo = "both"
)

// AuthorScope is the capability level of the code's author. Admin authors may
// use the full scope vocabulary; owner authors are restricted to their own
// courses (see ValidateAuthored).
type AuthorScope string

const (
	AuthorAdmin AuthorScope = "admin"
	AuthorOwner AuthorScope = "owner"
)

// LimitKind selects the usage limit policy of a code.
type LimitKind string

const (
	LimitUnlimited   LimitKind = "unlimited"
	LimitTotal       LimitKind = "total"
	LimitOncePerUser LimitKind = "once_per_user"
	LimitDaily       LimitKind = "daily"
)

// LimitPolicy is a tagged union: N carries the count for LimitTotal and
// LimitDaily and is zero for the other kinds.
type LimitPolicy struct {
	Kind LimitKind
	N    int
}

// Unlimited permits any number of redemptions.
func Unlimited() LimitPolicy { return LimitPolicy{Kind: LimitUnlimited} }

// TotalLimit permits at most n redemptions across all users.
func TotalLimit(n int) LimitPolicy { return LimitPolicy{Kind: LimitTotal, N: n} }

// OncePerUser permits at most one redemption per user.
func OncePerUser() LimitPolicy { return LimitPolicy{Kind: LimitOncePerUser} }

// DailyLimit permits at most n redemptions per calendar day.
func DailyLimit(n int) LimitPolicy { return LimitPolicy{Kind: LimitDaily, N: n} }

// Code is a promotional rule. Codes are soft-disabled via Active rather than
// deleted, because usage records keep referencing them.
type Code struct {
	ID          string
	Code        string
	Title       string
	Description string

	Kind      Kind
	Value     decimal.Decimal
	Scope     ScopeKind
	AppliesTo AppliesTo

	// TargetIDs holds course, product, or category identifiers depending on
	// Scope. Empty for the untargeted scopes.
	TargetIDs []string

	// MinimumAmount is the floor on the eligible subtotal (minimum_amount
	// scope). MaximumAmount caps the reduction of percent codes.
	MinimumAmount *decimal.Decimal
	MaximumAmount *decimal.Decimal

	Limit LimitPolicy

	ValidFrom  *time.Time
	ValidUntil *time.Time
	Active     bool

	AuthorID    string
	AuthorScope AuthorScope
}

// ItemKind tags a purchasable line item as a course or a product.
type ItemKind string

const (
	ItemCourse  ItemKind = "course"
	ItemProduct ItemKind = "product"
)

// LineItem is one purchasable entry of a purchase context.
type LineItem struct {
	ItemID      string
	Kind        ItemKind
	CategoryIDs []string
	UnitAmount  decimal.Decimal
}

// PurchaseContext describes the purchase a code is evaluated against.
type PurchaseContext struct {
	BuyerID string
	Items   []LineItem

	// HasPriorOrder is true when the buyer has at least one completed order,
	// which disqualifies first_purchase codes.
	HasPriorOrder bool
}

// Resolution and redemption failures. All are caller-recoverable: checkout
// surfaces them to the buyer instead of failing the request.
var (
	ErrCodeNotFound     = errors.New("discount code not found")
	ErrCodeInactive     = errors.New("discount code is disabled")
	ErrCodeNotYetActive = errors.New("discount code is not active yet")
	ErrCodeExpired      = errors.New("discount code expired")

	// ErrScopeMismatch is returned when no line item qualifies for the code.
	ErrScopeMismatch = errors.New("discount code does not apply to any item in this purchase")

	ErrUsageLimitExceeded = errors.New("discount code usage limit reached")
	ErrAlreadyUsedByUser  = errors.New("discount code already used by this user")
	ErrDailyLimitExceeded = errors.New("discount code daily limit reached")

	// ErrCodeExists is returned by storage when creating a code whose
	// normalized form already exists.
	ErrCodeExists = errors.New("discount code already exists")

	// ErrServerBusy signals a transient transaction conflict or timeout.
	// Safe to retry: redemption is idempotent per order.
	ErrServerBusy = errors.New("redemption temporarily unavailable, retry")

	// ErrUnauthorized is raised by authoring validation when an owner-scoped
	// author targets a course they do not own.
	ErrUnauthorized = errors.New("author is not allowed to target these items")

	// ErrInvalidRule is the base error for authoring validation failures.
	ErrInvalidRule = errors.New("invalid discount code definition")
)

// BelowMinimumAmountError reports that the eligible subtotal did not reach
// the code's minimum amount. The minimum is part of the message so checkout
// can show the buyer what is missing.
type BelowMinimumAmountError struct {
	Minimum decimal.Decimal
}

func (e *BelowMinimumAmountError) Error() string {
	return fmt.Sprintf("purchase amount is below the required minimum of %s", e.Minimum)
}

// CodeReader provides lookup of discount codes by their raw (unnormalized)
// code string. Implementations must match case-insensitively.
type CodeReader interface {
	FindByCode(ctx context.Context, code string) (*Code, error)
}
