package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stablemint/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each asset's
// last observed price lives at "stablemint:price:{asset}" with fields "price"
// (decimal string) and "ts" (Unix nanosecond timestamp). The cache is
// reporting-only; risk and mint decisions never read it.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

// SetPrice stores the latest observed price for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, price domain.PricePoint) error {
	fields := map[string]interface{}{
		"price": price.Price.String(),
		"ts":    strconv.FormatInt(price.ObservedAt.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key("price", asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset, err)
	}
	return nil
}

// GetPrice retrieves the latest observed price for an asset. It returns
// domain.ErrNotFound when no price has been recorded.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string) (domain.PricePoint, error) {
	vals, err := pc.rdb.HGetAll(ctx, key("price", asset)).Result()
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: get price %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.PricePoint{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse price %s: %w", asset, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}

	return domain.PricePoint{
		Price:      price,
		ObservedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
