package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/internal/repository"
)

const keyPrefix = "product:"

// ProductCatalog is a read-through cache in front of another
// repository.ProductCatalog. Snapshots are served from Redis when
// present; misses fall through to the source and are written back
// with a TTL. Cache failures degrade to the source, never to an
// error: a cold or unreachable Redis must not break cart loads.
type ProductCatalog struct {
	client *redis.Client
	source repository.ProductCatalog
	ttl    time.Duration
	logger *slog.Logger
}

// NewProductCatalog creates a caching catalog backed by source.
func NewProductCatalog(client *redis.Client, source repository.ProductCatalog, ttl time.Duration, logger *slog.Logger) *ProductCatalog {
	return &ProductCatalog{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

// GetByIDs returns product snapshots for the given IDs, consulting the
// cache first and fetching only the misses from the source catalog.
func (c *ProductCatalog) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	result := make(map[string]domain.Product, len(ids))
	misses := ids

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "product cache read failed", "error", err)
	} else {
		misses = make([]string, 0, len(ids))
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				misses = append(misses, ids[i])
				continue
			}

			var p domain.Product
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				c.logger.WarnContext(ctx, "product cache entry corrupt", "product_id", ids[i], "error", err)
				misses = append(misses, ids[i])
				continue
			}
			result[p.ID] = p
		}
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := c.source.GetByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}

	for id, p := range fetched {
		result[id] = p
	}

	if err := c.writeBack(ctx, fetched); err != nil {
		c.logger.WarnContext(ctx, "product cache write failed", "error", err)
	}

	return result, nil
}

func (c *ProductCatalog) writeBack(ctx context.Context, products map[string]domain.Product) error {
	if len(products) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal product: %w", err)
		}
		pipe.Set(ctx, keyPrefix+p.ID, data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set products: %w", err)
	}

	return nil
}

// Invalidate drops cached snapshots for the given product IDs.
func (c *ProductCatalog) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del products: %w", err)
	}

	return nil
}
