package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Portfolio is the in-memory PnL view.
type Portfolio interface {
	Positions() []domain.Position
	Trades() []domain.Trade
	Snapshots(n int) []domain.PortfolioSnapshot
	Cash() float64
	PortfolioValue() float64
	Stats() domain.Stats
}

// Exposure reports committed capital against the limit.
type Exposure interface {
	Exposure() float64
	MaxExposureUSD() float64
}

// MarketCounter reports the size of the active-market table.
type MarketCounter interface {
	ActiveMarkets() int
}

// TradeHistory is the durable trade log. Optional.
type TradeHistory interface {
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
}

// PortfolioHandler serves positions, trades, PnL, stats and market counts.
type PortfolioHandler struct {
	portfolio Portfolio
	exposure  Exposure
	markets   MarketCounter
	history   TradeHistory
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler. history may be nil, in
// which case trades are served from memory.
func NewPortfolioHandler(p Portfolio, e Exposure, m MarketCounter, history TradeHistory, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		portfolio: p,
		exposure:  e,
		markets:   m,
		history:   history,
		logger:    logger.With(slog.String("handler", "portfolio")),
	}
}

// ListPositions returns the open positions.
// GET /api/positions
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.portfolio.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions":    positions,
		"exposure_usd": h.exposure.Exposure(),
		"max_exposure": h.exposure.MaxExposureUSD(),
	})
}

// ListTrades returns closed trades, newest first.
// GET /api/trades?limit=&offset=&since=
func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var trades []domain.Trade
	if h.history != nil {
		var err error
		trades, err = h.history.ListTrades(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	} else {
		trades = page(h.portfolio.Trades(), func(t domain.Trade) time.Time { return t.ExitTime }, opts)
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// PnL returns the current valuation and recent snapshots, newest first.
// GET /api/pnl?limit=
func (h *PortfolioHandler) PnL(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	history := page(h.portfolio.Snapshots(0), func(s domain.PortfolioSnapshot) time.Time { return s.Timestamp }, opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"portfolio_value": h.portfolio.PortfolioValue(),
		"cash":            h.portfolio.Cash(),
		"history":         history,
	})
}

// Stats returns the performance summary.
// GET /api/stats
func (h *PortfolioHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.portfolio.Stats())
}

// Markets returns the number of markets currently tracked.
// GET /api/markets
func (h *PortfolioHandler) Markets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"active_markets": h.markets.ActiveMarkets()})
}
