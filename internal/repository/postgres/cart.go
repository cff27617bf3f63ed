package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/pkg/database"
)

// CartStore implements repository.CartStore using PostgreSQL. One row per
// (user, product) pair, enforced by the table's primary key.
type CartStore struct {
	pool database.DBTX
}

// NewCartStore creates a new PostgreSQL-backed cart store.
func NewCartStore(pool database.DBTX) *CartStore {
	return &CartStore{pool: pool}
}

// ListByUser returns the user's cart rows ordered by when they were added.
func (s *CartStore) ListByUser(ctx context.Context, userID string) ([]domain.CartRow, error) {
	query := `
		SELECT user_id, product_id, quantity, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at, product_id`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart rows: %w", err)
	}
	defer rows.Close()

	var result []domain.CartRow
	for rows.Next() {
		var r domain.CartRow
		if err := rows.Scan(&r.UserID, &r.ProductID, &r.Quantity, &r.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart rows: %w", err)
	}

	return result, nil
}

// UpsertQuantity sets the absolute quantity for (user, product), creating
// the row on first add. Repeating the call with the same arguments is a
// no-op, which keeps retries safe.
func (s *CartStore) UpsertQuantity(ctx context.Context, userID, productID string, quantity int) error {
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, userID, productID, quantity, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert cart row: %w", err)
	}

	return nil
}

// DeleteRow removes one (user, product) row. Missing rows are ignored.
func (s *CartStore) DeleteRow(ctx context.Context, userID, productID string) error {
	query := `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`

	if _, err := s.pool.Exec(ctx, query, userID, productID); err != nil {
		return fmt.Errorf("delete cart row: %w", err)
	}

	return nil
}

// DeleteAllByUser removes every cart row belonging to the user.
func (s *CartStore) DeleteAllByUser(ctx context.Context, userID string) error {
	query := `DELETE FROM cart_items WHERE user_id = $1`

	if _, err := s.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("delete cart rows: %w", err)
	}

	return nil
}
