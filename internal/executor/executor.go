package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// LegPolicy decides what happens to the remaining legs of a pair when one
// leg fails.
type LegPolicy string

const (
	// LegPolicyBestEffort places every leg regardless of earlier failures.
	LegPolicyBestEffort LegPolicy = "best_effort"
	// LegPolicyAllOrNone stops at the first failed leg.
	LegPolicyAllOrNone LegPolicy = "all_or_none"
)

// Config configures an Executor.
type Config struct {
	DedupTTL        time.Duration
	CleanupInterval time.Duration
	LegTimeout      time.Duration
	Policy          LegPolicy
}

// Order is one signal to execute against a known market.
type Order struct {
	TradeID string
	Signal  domain.TradeSignal
	Market  domain.MarketSnapshot
}

// Executor turns trade signals into venue orders. It never retries a
// failed leg; partial fills are reported to the caller.
type Executor struct {
	market domain.MarketInterface
	dedup  *Dedup
	cfg    Config
	logger *slog.Logger
}

// New creates an Executor placing orders on market.
func New(market domain.MarketInterface, cfg Config, logger *slog.Logger) *Executor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.LegTimeout <= 0 {
		cfg.LegTimeout = 10 * time.Second
	}
	if cfg.Policy == "" {
		cfg.Policy = LegPolicyAllOrNone
	}
	return &Executor{
		market: market,
		dedup:  NewDedup(cfg.DedupTTL),
		cfg:    cfg,
		logger: logger.With(slog.String("component", "executor")),
	}
}

// Run garbage-collects the dedup window until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := e.dedup.Cleanup(); n > 0 {
				e.logger.Debug("dedup cleanup", slog.Int("removed", n))
			}
		}
	}
}

// Legs splits a signal into order requests. A BuyBoth buys the same number
// of YES and NO shares: shares = size / (yes + no).
func Legs(sig domain.TradeSignal, m domain.MarketSnapshot) ([]domain.OrderRequest, error) {
	switch sig.Kind {
	case domain.SignalBuyBoth:
		pair := sig.YesPrice + sig.NoPrice
		if pair <= 0 || sig.SizeUSD <= 0 {
			return nil, fmt.Errorf("executor: %w: pair cost %v size %v", domain.ErrInvalidOrder, pair, sig.SizeUSD)
		}
		shares := sig.SizeUSD / pair
		return []domain.OrderRequest{
			{MarketID: sig.MarketID, AssetID: m.AssetFor(domain.SideYes), Side: domain.SideYes, Price: sig.YesPrice, SizeUSD: shares * sig.YesPrice},
			{MarketID: sig.MarketID, AssetID: m.AssetFor(domain.SideNo), Side: domain.SideNo, Price: sig.NoPrice, SizeUSD: shares * sig.NoPrice},
		}, nil
	case domain.SignalSnipe:
		if sig.Price <= 0 || sig.SizeUSD <= 0 {
			return nil, fmt.Errorf("executor: %w: price %v size %v", domain.ErrInvalidOrder, sig.Price, sig.SizeUSD)
		}
		return []domain.OrderRequest{
			{MarketID: sig.MarketID, AssetID: m.AssetFor(sig.Side), Side: sig.Side, Price: sig.Price, SizeUSD: sig.SizeUSD},
		}, nil
	}
	return nil, fmt.Errorf("executor: %w: signal kind %q", domain.ErrInvalidOrder, sig.Kind)
}

// Execute places every leg of the order. The returned error covers
// rejections before any leg is sent (duplicate trade id, malformed
// signal); leg failures are reported inside the Execution.
func (e *Executor) Execute(ctx context.Context, order Order) (domain.Execution, error) {
	exec := domain.Execution{
		TradeID:   order.TradeID,
		Signal:    order.Signal,
		StartedAt: time.Now(),
	}
	if e.dedup.IsDuplicate(order.TradeID) {
		return exec, fmt.Errorf("executor: %w: %s", domain.ErrDuplicate, order.TradeID)
	}
	legs, err := Legs(order.Signal, order.Market)
	if err != nil {
		return exec, err
	}

	log := e.logger.With(
		slog.String("trade_id", order.TradeID),
		slog.String("market", order.Signal.MarketID),
		slog.String("kind", string(order.Signal.Kind)),
	)

	var failed error
	for _, leg := range legs {
		res := domain.LegResult{Side: leg.Side, Price: leg.Price, SizeUSD: leg.SizeUSD}
		if failed != nil && e.cfg.Policy == LegPolicyAllOrNone {
			res.Err = fmt.Errorf("%w: %w", domain.ErrLegSkipped, failed)
			exec.Legs = append(exec.Legs, res)
			continue
		}

		legCtx, cancel := context.WithTimeout(ctx, e.cfg.LegTimeout)
		res.OrderID, res.Err = e.market.PlaceOrder(legCtx, leg)
		cancel()

		if res.Err != nil {
			failed = res.Err
			log.WarnContext(ctx, "leg failed",
				slog.String("side", string(leg.Side)),
				slog.String("error", res.Err.Error()),
			)
		}
		exec.Legs = append(exec.Legs, res)
	}
	exec.Duration = time.Since(exec.StartedAt)

	switch {
	case exec.Complete():
		log.InfoContext(ctx, "execution complete",
			slog.Float64("filled_usd", exec.FilledUSD()),
			slog.Duration("took", exec.Duration),
		)
	case exec.FilledUSD() > 0:
		log.WarnContext(ctx, "partial execution",
			slog.Float64("filled_usd", exec.FilledUSD()),
			slog.Int("legs", len(exec.Legs)),
		)
	}
	return exec, nil
}
