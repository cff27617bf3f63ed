package postgres

import (
	"context"
	"fmt"

	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/pkg/database"
)

// ProductCatalog implements repository.ProductCatalog using PostgreSQL.
type ProductCatalog struct {
	pool database.DBTX
}

// NewProductCatalog creates a new PostgreSQL-backed product catalog.
func NewProductCatalog(pool database.DBTX) *ProductCatalog {
	return &ProductCatalog{pool: pool}
}

// GetByIDs returns product snapshots for the given IDs. IDs with no matching
// product are absent from the result.
func (c *ProductCatalog) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	query := `
		SELECT id, name, slug, price, compare_at_price, image_url, stock
		FROM products
		WHERE id = ANY($1)`

	rows, err := c.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.CompareAtPrice, &p.ImageURL, &p.Stock); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return result, nil
}
