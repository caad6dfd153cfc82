package promo

import (
	"github.com/shopspring/decimal"
)

// Eligibility is the subset of a purchase a code can discount, plus the
// subtotal of that subset.
type Eligibility struct {
	Items    []LineItem
	Subtotal decimal.Decimal
}

// MatchScope determines which line items of the purchase the code applies
// to. The applies-to restriction (courses/products/both) cross-cuts every
// scope. An empty eligible set is ErrScopeMismatch; whether that is fatal is
// the caller's call (hard at redemption, soft during preview).
//
// The minimum_amount scope matches every allowed item here; the threshold
// itself is enforced by Calculate.
func MatchScope(c *Code, pc PurchaseContext) (Eligibility, error) {
	if c.Scope == ScopeFirstPurchase && pc.HasPriorOrder {
		return Eligibility{}, ErrScopeMismatch
	}

	targets := make(map[string]struct{}, len(c.TargetIDs))
	for _, id := range c.TargetIDs {
		targets[id] = struct{}{}
	}

	var eligible []LineItem
	subtotal := decimal.Zero
	for _, item := range pc.Items {
		if !kindAllowed(c.AppliesTo, item.Kind) {
			continue
		}
		if !scopeMatches(c.Scope, targets, item) {
			continue
		}
		eligible = append(eligible, item)
		subtotal = subtotal.Add(item.UnitAmount)
	}

	if len(eligible) == 0 {
		return Eligibility{}, ErrScopeMismatch
	}

	return Eligibility{Items: eligible, Subtotal: subtotal}, nil
}

func kindAllowed(a AppliesTo, k ItemKind) bool {
	switch a {
	case AppliesCourses:
		return k == ItemCourse
	case AppliesProducts:
		return k == ItemProduct
	default:
		return true
	}
}

func scopeMatches(scope ScopeKind, targets map[string]struct{}, item LineItem) bool {
	switch scope {
	case ScopeAll, ScopeFirstPurchase, ScopeMinimumAmount:
		return true
	case ScopeCourses:
		if item.Kind != ItemCourse {
			return false
		}
		_, ok := targets[item.ItemID]
		return ok
	case ScopeProducts:
		if item.Kind != ItemProduct {
			return false
		}
		_, ok := targets[item.ItemID]
		return ok
	case ScopeCategories:
		for _, cat := range item.CategoryIDs {
			if _, ok := targets[cat]; ok {
				return true
			}
		}
		return false
	default:
		return false
	}
}
