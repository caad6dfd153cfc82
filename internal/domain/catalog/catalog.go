// Package catalog holds the purchasable items that promotion codes
// discount: courses and the physical or digital products sold alongside
// them.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested catalog item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// ItemKind mirrors promo.ItemKind on the catalog side.
type ItemKind string

const (
	KindCourse  ItemKind = "course"
	KindProduct ItemKind = "product"
)

// Item is one purchasable entry.
type Item struct {
	ID          string
	Kind        ItemKind
	Name        string
	UnitAmount  decimal.Decimal
	CategoryIDs []string
	// OwnerID is the teaching author for courses; empty for products.
	OwnerID string
}

// Repository is the catalog store.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
	Upsert(ctx context.Context, items []Item) error
	// OwnedCourseIDs lists the course ids owned by the given author.
	OwnedCourseIDs(ctx context.Context, ownerID string) ([]string, error)
}
