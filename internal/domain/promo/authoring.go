package promo

import (
	"context"

	"github.com/go-faster/errors"
)

// OwnershipReader answers which courses an author currently teaches.
type OwnershipReader interface {
	OwnedCourseIDs(ctx context.Context, authorID string) ([]string, error)
}

// targetedScopes are the scopes that require a non-empty TargetIDs set.
var targetedScopes = map[ScopeKind]bool{
	ScopeCourses:    true,
	ScopeProducts:   true,
	ScopeCategories: true,
}

// ValidateAuthored checks a code definition before it is persisted. It runs
// on every create AND every edit, because course ownership can change
// between the two.
//
// Owner-scoped authors are forced to specific_courses with TargetIDs a
// subset of the courses they own; a violation is ErrUnauthorized. All other
// failures wrap ErrInvalidRule.
func ValidateAuthored(ctx context.Context, owns OwnershipReader, c *Code) error {
	if Normalize(c.Code) == "" {
		return errors.Wrap(ErrInvalidRule, "code is required")
	}

	switch c.Kind {
	case KindFixed:
		if !c.Value.IsPositive() {
			return errors.Wrap(ErrInvalidRule, "fixed value must be positive")
		}
	case KindPercent:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidRule, "percent value must be in (0, 100]")
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown kind %q", c.Kind)
	}

	switch c.AppliesTo {
	case AppliesCourses, AppliesProducts, AppliesBoth:
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown applies-to %q", c.AppliesTo)
	}

	if targetedScopes[c.Scope] {
		if len(c.TargetIDs) == 0 {
			return errors.Wrapf(ErrInvalidRule, "scope %q requires target ids", c.Scope)
		}
	} else {
		switch c.Scope {
		case ScopeAll, ScopeFirstPurchase:
			if len(c.TargetIDs) > 0 {
				return errors.Wrapf(ErrInvalidRule, "scope %q takes no target ids", c.Scope)
			}
		case ScopeMinimumAmount:
			if len(c.TargetIDs) > 0 {
				return errors.Wrapf(ErrInvalidRule, "scope %q takes no target ids", c.Scope)
			}
			if c.MinimumAmount == nil || !c.MinimumAmount.IsPositive() {
				return errors.Wrap(ErrInvalidRule, "minimum_amount scope requires a positive minimum")
			}
		default:
			return errors.Wrapf(ErrInvalidRule, "unknown scope %q", c.Scope)
		}
	}

	if c.MaximumAmount != nil && !c.MaximumAmount.IsPositive() {
		return errors.Wrap(ErrInvalidRule, "maximum amount must be positive")
	}

	switch c.Limit.Kind {
	case LimitUnlimited, LimitOncePerUser:
	case LimitTotal, LimitDaily:
		if c.Limit.N <= 0 {
			return errors.Wrapf(ErrInvalidRule, "limit policy %q requires a positive count", c.Limit.Kind)
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown limit policy %q", c.Limit.Kind)
	}

	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return errors.Wrap(ErrInvalidRule, "valid_until precedes valid_from")
	}

	if c.AuthorScope == AuthorOwner {
		if c.Scope != ScopeCourses {
			return errors.Wrap(ErrUnauthorized, "owner authors may only target specific courses")
		}
		owned, err := owns.OwnedCourseIDs(ctx, c.AuthorID)
		if err != nil {
			return errors.Wrap(err, "list owned courses")
		}
		ownedSet := make(map[string]struct{}, len(owned))
		for _, id := range owned {
			ownedSet[id] = struct{}{}
		}
		for _, id := range c.TargetIDs {
			if _, ok := ownedSet[id]; !ok {
				return errors.Wrapf(ErrUnauthorized, "course %s is not owned by author %s", id, c.AuthorID)
			}
		}
	}

	return nil
}
