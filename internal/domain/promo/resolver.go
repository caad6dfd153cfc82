package promo

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Normalize canonicalizes a user-entered code: surrounding whitespace is
// stripped and the result upper-cased. Codes compare equal iff their
// normalized forms do.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Resolve looks up the code and confirms it is currently redeemable.
// Pure with respect to storage: no side effects.
//
// The validity window is checked before the kill switch, so an expired code
// reports ErrCodeExpired regardless of its Active flag.
func Resolve(ctx context.Context, codes CodeReader, raw string, now time.Time) (*Code, error) {
	normalized := Normalize(raw)
	if normalized == "" {
		return nil, ErrCodeNotFound
	}

	c, err := codes.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, errors.Wrap(err, "lookup code")
	}

	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return nil, ErrCodeExpired
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return nil, ErrCodeNotYetActive
	}
	if !c.Active {
		return nil, ErrCodeInactive
	}

	return c, nil
}
