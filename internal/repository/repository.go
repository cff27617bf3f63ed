package repository

import (
	"context"

	"github.com/waqas385/wacommerce/internal/domain"
)

// CartStore is the remote, persistent source of truth for cart rows. Every
// call must be independently idempotent-safe: quantities are written as
// absolute values, never as blind inserts or relative increments, so a
// retried call cannot double-apply.
type CartStore interface {
	// ListByUser returns all cart rows for the user, oldest first.
	ListByUser(ctx context.Context, userID string) ([]domain.CartRow, error)

	// UpsertQuantity sets the quantity for (user, product), inserting the
	// row if it does not exist.
	UpsertQuantity(ctx context.Context, userID, productID string, quantity int) error

	// DeleteRow removes the (user, product) row. Deleting a missing row is
	// not an error.
	DeleteRow(ctx context.Context, userID, productID string) error

	// DeleteAllByUser removes every row for the user.
	DeleteAllByUser(ctx context.Context, userID string) error
}

// ProductCatalog provides product snapshots for enriching bare cart rows
// into displayable lines.
type ProductCatalog interface {
	// GetByIDs returns snapshots keyed by product ID. Unknown IDs are
	// simply absent from the result, not an error.
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
}
