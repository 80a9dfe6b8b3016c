package redis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Mirror copies the decision loop's market table into the market and price
// caches. Mirror never blocks: snapshots are coalesced per market and
// written on the next flush.
type Mirror struct {
	markets  domain.MarketCache
	prices   domain.PriceCache
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.MarketSnapshot
}

// NewMirror creates a Mirror flushing every interval.
func NewMirror(markets domain.MarketCache, prices domain.PriceCache, interval time.Duration, logger *slog.Logger) *Mirror {
	if interval <= 0 {
		interval = time.Second
	}
	return &Mirror{
		markets:  markets,
		prices:   prices,
		interval: interval,
		logger:   logger.With(slog.String("component", "redis_mirror")),
		pending:  make(map[string]domain.MarketSnapshot),
	}
}

// Mirror queues the latest snapshot of a market.
func (m *Mirror) Mirror(s domain.MarketSnapshot) {
	m.mu.Lock()
	m.pending[s.ID] = s
	m.mu.Unlock()
}

// Run flushes until ctx is cancelled, then flushes once more.
func (m *Mirror) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m.Flush(fctx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			m.Flush(ctx)
		}
	}
}

// Flush writes every queued snapshot and returns how many were written.
func (m *Mirror) Flush(ctx context.Context) int {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]domain.MarketSnapshot, len(batch))
	m.mu.Unlock()

	var written int
	for _, s := range batch {
		if err := m.write(ctx, s); err != nil {
			m.logger.Warn("mirror write failed",
				slog.String("market", s.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		written++
	}
	return written
}

func (m *Mirror) write(ctx context.Context, s domain.MarketSnapshot) error {
	if err := m.markets.Set(ctx, s); err != nil {
		return err
	}
	ts := s.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		asset, price := s.AssetFor(side), s.PriceFor(side)
		if asset == "" || price <= 0 {
			continue
		}
		if err := m.prices.SetPrice(ctx, asset, price, ts); err != nil {
			return err
		}
	}
	return nil
}
