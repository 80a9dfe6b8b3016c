package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/redis/go-redis/v9"
)

const marketTTL = 30 * time.Minute

// MarketCache implements domain.MarketCache with JSON snapshots and an
// asset-to-market index.
//
// Key schema:
//
//	{prefix}market:{conditionID}      - JSON snapshot
//	{prefix}market:asset:{assetID}    - condition id
type MarketCache struct {
	c *Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{c: c}
}

// cachedMarket is the stored form. Ask ladders are left out.
type cachedMarket struct {
	ID        string             `json:"id"`
	Question  string             `json:"question,omitempty"`
	EndTime   *time.Time         `json:"end_time,omitempty"`
	Volume    float64            `json:"volume"`
	Liquidity float64            `json:"liquidity"`
	Volume24h float64            `json:"volume_24h"`
	YesPrice  float64            `json:"yes_price"`
	NoPrice   float64            `json:"no_price"`
	Imbalance float64            `json:"imbalance"`
	AssetIDs  []string           `json:"asset_ids"`
	State     domain.MarketState `json:"state"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toCached(m domain.MarketSnapshot) cachedMarket {
	return cachedMarket{
		ID: m.ID, Question: m.Question, EndTime: m.EndTime,
		Volume: m.Volume, Liquidity: m.Liquidity, Volume24h: m.Volume24h,
		YesPrice: m.YesPrice, NoPrice: m.NoPrice, Imbalance: m.Imbalance,
		AssetIDs: m.AssetIDs, State: m.State, UpdatedAt: m.UpdatedAt,
	}
}

func (c cachedMarket) snapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		ID: c.ID, Question: c.Question, EndTime: c.EndTime,
		Volume: c.Volume, Liquidity: c.Liquidity, Volume24h: c.Volume24h,
		YesPrice: c.YesPrice, NoPrice: c.NoPrice, Imbalance: c.Imbalance,
		AssetIDs: c.AssetIDs, State: c.State, UpdatedAt: c.UpdatedAt,
	}
}

// Set stores the snapshot and indexes its asset ids.
func (mc *MarketCache) Set(ctx context.Context, m domain.MarketSnapshot) error {
	data, err := json.Marshal(toCached(m))
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
	}

	pipe := mc.c.rdb.TxPipeline()
	pipe.Set(ctx, mc.c.Key("market", m.ID), data, marketTTL)
	for _, asset := range m.AssetIDs {
		if asset == "" {
			continue
		}
		pipe.Set(ctx, mc.c.Key("market", "asset", asset), m.ID, marketTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", m.ID, err)
	}
	return nil
}

// Get returns domain.ErrNotFound for an unknown market.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.MarketSnapshot, error) {
	data, err := mc.c.rdb.Get(ctx, mc.c.Key("market", id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, fmt.Errorf("redis: market %s: %w", id, domain.ErrNotFound)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}
	var cm cachedMarket
	if err := json.Unmarshal(data, &cm); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return cm.snapshot(), nil
}

// GetByAsset resolves an outcome token id to its market.
func (mc *MarketCache) GetByAsset(ctx context.Context, assetID string) (domain.MarketSnapshot, error) {
	id, err := mc.c.rdb.Get(ctx, mc.c.Key("market", "asset", assetID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, fmt.Errorf("redis: asset %s: %w", assetID, domain.ErrNotFound)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market by asset %s: %w", assetID, err)
	}
	return mc.Get(ctx, id)
}

var _ domain.MarketCache = (*MarketCache)(nil)
