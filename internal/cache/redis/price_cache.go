package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/redis/go-redis/v9"
)

// priceTTL expires asks of assets the agent stopped watching.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache. Each asset's best ask is a hash
// at "{prefix}ask:{assetID}" with fields "price" and "ts" (unix nanos).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

func (pc *PriceCache) key(assetID string) string {
	return pc.c.Key("ask", assetID)
}

// SetPrice stores the latest best ask of an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, assetID string, price float64, ts time.Time) error {
	key := pc.key(assetID)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, encodePrice(price, ts))
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", assetID, err)
	}
	return nil
}

// GetPrice returns domain.ErrNotFound when the asset has no cached ask.
func (pc *PriceCache) GetPrice(ctx context.Context, assetID string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.key(assetID)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	price, ts, err := decodePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", assetID, err)
	}
	return price, ts, nil
}

// GetPrices reads many assets in one pipeline. Missing or malformed
// entries are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, assetIDs []string) (map[string]float64, error) {
	if len(assetIDs) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.c.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(assetIDs))
	for _, id := range assetIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices: %w", err)
	}

	out := make(map[string]float64, len(assetIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, err := decodePrice(vals); err == nil {
			out[id] = price
		}
	}
	return out, nil
}

func encodePrice(price float64, ts time.Time) map[string]any {
	return map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodePrice(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}
	var ts time.Time
	if tsStr, ok := vals["ts"]; ok {
		nanos, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
		}
		ts = time.Unix(0, nanos)
	}
	return price, ts, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
