package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

var _ domain.MarketInterface = (*Market)(nil)

// MarketConfig configures the live venue adapter.
type MarketConfig struct {
	// Paper skips signing and submission and returns synthetic order ids.
	Paper bool
	// PaperBalance is the starting dollar balance reported in paper mode.
	PaperBalance float64
	// MarketLimit caps how many markets GetActiveMarkets requests.
	MarketLimit int
}

// Market is the live MarketInterface backed by Gamma for metadata and the
// CLOB for balances and orders.
type Market struct {
	gamma  *GammaClient
	clob   *ClobClient
	cfg    MarketConfig
	logger *slog.Logger

	mu           sync.Mutex
	paperBalance float64
}

// NewMarket creates the adapter. clob may be nil in paper mode.
func NewMarket(gamma *GammaClient, clob *ClobClient, cfg MarketConfig, logger *slog.Logger) (*Market, error) {
	if gamma == nil {
		return nil, errors.New("polymarket: gamma client is required")
	}
	if !cfg.Paper && clob == nil {
		return nil, errors.New("polymarket: clob client is required in live mode")
	}
	if cfg.MarketLimit <= 0 {
		cfg.MarketLimit = 500
	}
	return &Market{
		gamma:        gamma,
		clob:         clob,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "polymarket"), slog.Bool("paper", cfg.Paper)),
		paperBalance: cfg.PaperBalance,
	}, nil
}

// GetActiveMarkets returns open binary markets.
func (m *Market) GetActiveMarkets(ctx context.Context) ([]domain.MarketSnapshot, error) {
	return m.gamma.ActiveMarkets(ctx, m.cfg.MarketLimit)
}

// GetMarketDetails returns the indexed snapshot of one market.
func (m *Market) GetMarketDetails(ctx context.Context, marketID string) (domain.MarketSnapshot, error) {
	return m.gamma.MarketByCondition(ctx, marketID)
}

// GetBalance returns the collateral balance, or the simulated balance in
// paper mode.
func (m *Market) GetBalance(ctx context.Context) (float64, error) {
	if m.cfg.Paper {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.paperBalance, nil
	}
	return m.clob.Balance(ctx)
}

// PlaceOrder buys order.SizeUSD worth of the side's token.
func (m *Market) PlaceOrder(ctx context.Context, order domain.OrderRequest) (string, error) {
	if order.Side != domain.SideYes && order.Side != domain.SideNo {
		return "", fmt.Errorf("polymarket: place order: %w: %q", domain.ErrInvalidSide, order.Side)
	}
	if order.Price <= 0 || order.Price >= 1 || order.SizeUSD <= 0 {
		return "", fmt.Errorf("polymarket: place order: %w: price=%v size=%v",
			domain.ErrInvalidOrder, order.Price, order.SizeUSD)
	}

	if m.cfg.Paper {
		m.mu.Lock()
		if order.SizeUSD > m.paperBalance {
			bal := m.paperBalance
			m.mu.Unlock()
			return "", fmt.Errorf("polymarket: place order: %w: need %.2f have %.2f",
				domain.ErrInsufficient, order.SizeUSD, bal)
		}
		m.paperBalance -= order.SizeUSD
		m.mu.Unlock()

		id := "paper-order-" + uuid.NewString()
		m.logger.InfoContext(ctx, "paper order",
			slog.String("order_id", id),
			slog.String("market", order.MarketID),
			slog.String("side", string(order.Side)),
			slog.Float64("price", order.Price),
			slog.Float64("size_usd", order.SizeUSD),
		)
		return id, nil
	}

	assetID := order.AssetID
	if assetID == "" {
		snap, err := m.gamma.MarketByCondition(ctx, order.MarketID)
		if err != nil {
			return "", fmt.Errorf("polymarket: resolve asset: %w", err)
		}
		assetID = snap.AssetFor(order.Side)
		if assetID == "" {
			return "", fmt.Errorf("polymarket: %w: no %s token for %s", domain.ErrInvalidOrder, order.Side, order.MarketID)
		}
	}

	orderID, err := m.clob.PostOrder(ctx, assetID, order.Price, order.Shares())
	if err != nil {
		return "", err
	}
	m.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", orderID),
		slog.String("market", order.MarketID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price),
		slog.Float64("size_usd", order.SizeUSD),
	)
	return orderID, nil
}
