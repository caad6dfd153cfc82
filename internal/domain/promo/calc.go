package promo

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote is the priced outcome of applying a code to an eligible subtotal.
type Quote struct {
	Subtotal  decimal.Decimal
	Reduction decimal.Decimal
	// Final is the eligible subtotal after the reduction, for display.
	// Never negative.
	Final decimal.Decimal
}

// Calculate computes the monetary reduction for the eligible subtotal.
//
// The reduction is rounded down at cent precision, so the post-discount
// total never goes negative and never exceeds the original subtotal.
// A minimum_amount code whose threshold is not met yields
// BelowMinimumAmountError rather than a zero quote.
func Calculate(c *Code, subtotal decimal.Decimal) (Quote, error) {
	if c.Scope == ScopeMinimumAmount && c.MinimumAmount != nil && subtotal.LessThan(*c.MinimumAmount) {
		return Quote{}, &BelowMinimumAmountError{Minimum: *c.MinimumAmount}
	}

	var reduction decimal.Decimal
	switch c.Kind {
	case KindFixed:
		reduction = decimal.Min(c.Value, subtotal)
	case KindPercent:
		reduction = subtotal.Mul(c.Value).Div(hundred)
		if c.MaximumAmount != nil {
			reduction = decimal.Min(reduction, *c.MaximumAmount)
		}
	default:
		return Quote{}, errors.Errorf("unsupported discount kind: %q", c.Kind)
	}

	if reduction.IsNegative() {
		reduction = decimal.Zero
	}
	reduction = reduction.RoundDown(2)

	return Quote{
		Subtotal:  subtotal,
		Reduction: reduction,
		Final:     subtotal.Sub(reduction),
	}, nil
}
