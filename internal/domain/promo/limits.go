package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// LedgerReader exposes the usage-ledger reads the limit policies need.
// A read outside the redemption transaction is only a pre-flight hint;
// the authoritative check runs against a transaction-bound reader.
type LedgerReader interface {
	// CountUses returns the total number of usage records for the code.
	CountUses(ctx context.Context, codeID string) (int, error)
	// CountUsesBetween counts usage records with from <= used_at < to.
	CountUsesBetween(ctx context.Context, codeID string, from, to time.Time) (int, error)
	// UserHasUsed reports whether the user has any usage record for the code.
	UserHasUsed(ctx context.Context, codeID, userID string) (bool, error)
}

// CheckLimit decides whether redeeming the code is currently permitted under
// its usage limit policy. A denial is one of the distinct sentinel errors so
// callers can tell the buyer why redemption is blocked. The daily window is
// the calendar day of now in loc.
func CheckLimit(ctx context.Context, ledger LedgerReader, c *Code, userID string, now time.Time, loc *time.Location) error {
	switch c.Limit.Kind {
	case LimitUnlimited:
		return nil

	case LimitTotal:
		used, err := ledger.CountUses(ctx, c.ID)
		if err != nil {
			return errors.Wrap(err, "count uses")
		}
		if used >= c.Limit.N {
			return ErrUsageLimitExceeded
		}
		return nil

	case LimitOncePerUser:
		used, err := ledger.UserHasUsed(ctx, c.ID, userID)
		if err != nil {
			return errors.Wrap(err, "check user usage")
		}
		if used {
			return ErrAlreadyUsedByUser
		}
		return nil

	case LimitDaily:
		from, to := dayBounds(now, loc)
		used, err := ledger.CountUsesBetween(ctx, c.ID, from, to)
		if err != nil {
			return errors.Wrap(err, "count daily uses")
		}
		if used >= c.Limit.N {
			return ErrDailyLimitExceeded
		}
		return nil

	default:
		return errors.Errorf("unsupported limit policy: %q", c.Limit.Kind)
	}
}

// dayBounds returns the half-open interval [start of day, start of next day)
// containing now, in loc.
func dayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
