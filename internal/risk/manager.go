// Package risk gates entries against portfolio limits and decides when an
// open position should be stopped out. A Manager is owned by a single
// goroutine and is not safe for concurrent use.
package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// MinConfidence is the floor below which no entry is accepted.
const MinConfidence = 0.6

// State is the lifecycle of a market from the risk manager's view.
type State int

const (
	StateNoPosition State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "no_position"
}

// Config configures the risk limits. Percentages are fractions of Capital.
type Config struct {
	Capital           float64
	MaxPositionPct    float64
	MaxExposurePct    float64
	StopLossPct       float64
	DynamicStopLoss   bool
	MinHold           time.Duration
	AutoSellThreshold float64
}

// tier maps a minimum entry price to a stop-loss threshold.
type tier struct {
	minEntry  float64
	threshold float64
}

// Expensive entries are near-certain outcomes and get tight stops.
var dynamicTiers = []tier{
	{0.90, 0.03},
	{0.80, 0.05},
	{0.70, 0.08},
	{0.60, 0.12},
}

// Manager tracks open positions keyed by market id.
type Manager struct {
	cfg       Config
	positions map[string]domain.Position
	closed    map[string]time.Time
	logger    *slog.Logger
}

// NewManager creates a risk manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]domain.Position),
		closed:    make(map[string]time.Time),
		logger:    logger.With(slog.String("component", "risk")),
	}
}

// MaxPositionUSD is the largest single entry allowed.
func (m *Manager) MaxPositionUSD() float64 {
	return m.cfg.Capital * m.cfg.MaxPositionPct
}

// MaxExposureUSD is the cap on the sum of open position sizes.
func (m *Manager) MaxExposureUSD() float64 {
	return m.cfg.Capital * m.cfg.MaxExposurePct
}

// ValidateEntry checks a proposed entry. The first failing rule wins, in
// order: duplicate, size, exposure, confidence.
func (m *Manager) ValidateEntry(marketID string, sizeUSD, confidence float64) error {
	if _, ok := m.positions[marketID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicatePosition, marketID)
	}
	if limit := m.MaxPositionUSD(); sizeUSD > limit {
		return fmt.Errorf("%w: $%.2f > $%.2f", domain.ErrPositionTooLarge, sizeUSD, limit)
	}
	exposure := m.Exposure()
	if limit := m.MaxExposureUSD(); exposure+sizeUSD > limit {
		return fmt.Errorf("%w: $%.2f + $%.2f > $%.2f", domain.ErrExposureLimit, exposure, sizeUSD, limit)
	}
	if confidence < MinConfidence {
		return fmt.Errorf("%w: %.2f < %.2f", domain.ErrLowConfidence, confidence, MinConfidence)
	}
	return nil
}

// AddPosition opens a position. Callers run ValidateEntry first; a second
// position for the same market is still refused here.
func (m *Manager) AddPosition(pos domain.Position) error {
	if _, ok := m.positions[pos.MarketID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicatePosition, pos.MarketID)
	}
	m.positions[pos.MarketID] = pos
	delete(m.closed, pos.MarketID)
	m.logger.Info("position opened",
		slog.String("market", pos.MarketID),
		slog.String("trade_id", pos.TradeID),
		slog.String("side", string(pos.Side)),
		slog.Float64("size_usd", pos.SizeUSD),
		slog.Float64("entry_price", pos.EntryPrice),
	)
	return nil
}

// RemovePosition closes the market's position and returns it.
func (m *Manager) RemovePosition(marketID string, at time.Time) (domain.Position, bool) {
	pos, ok := m.positions[marketID]
	if !ok {
		return domain.Position{}, false
	}
	delete(m.positions, marketID)
	m.closed[marketID] = at
	m.logger.Info("position closed", slog.String("market", marketID), slog.String("trade_id", pos.TradeID))
	return pos, true
}

// Position returns the open position for a market.
func (m *Manager) Position(marketID string) (domain.Position, bool) {
	pos, ok := m.positions[marketID]
	return pos, ok
}

// Positions returns the open positions ordered by entry time.
func (m *Manager) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Exposure is the sum of open position sizes.
func (m *Manager) Exposure() float64 {
	var total float64
	for _, p := range m.positions {
		total += p.SizeUSD
	}
	return total
}

// State reports where a market is in its position lifecycle.
func (m *Manager) State(marketID string) State {
	if _, ok := m.positions[marketID]; ok {
		return StateOpen
	}
	if _, ok := m.closed[marketID]; ok {
		return StateClosed
	}
	return StateNoPosition
}

// StopLossThreshold returns the loss fraction that stops out a position
// entered at entryPrice.
func (m *Manager) StopLossThreshold(entryPrice float64) float64 {
	if m.cfg.DynamicStopLoss {
		for _, t := range dynamicTiers {
			if entryPrice >= t.minEntry {
				return t.threshold
			}
		}
	}
	return m.cfg.StopLossPct
}

// CheckStopLoss reports whether pos should be closed at current. It never
// fires before MinHold has elapsed or without a usable price.
func (m *Manager) CheckStopLoss(pos domain.Position, current float64, now time.Time) bool {
	if now.Sub(pos.EntryTime) < m.cfg.MinHold {
		return false
	}
	if pos.EntryPrice <= 0 || current <= 0 {
		return false
	}
	pnl := (current - pos.EntryPrice) / pos.EntryPrice
	threshold := m.StopLossThreshold(pos.EntryPrice)
	if pnl < -threshold {
		m.logger.Warn("stop loss triggered",
			slog.String("market", pos.MarketID),
			slog.Float64("pnl_pct", pnl*100),
			slog.Float64("threshold_pct", threshold*100),
		)
		return true
	}
	return false
}

// CheckTakeProfit reports whether current has reached the auto-sell price.
func (m *Manager) CheckTakeProfit(current float64) bool {
	return m.cfg.AutoSellThreshold > 0 && current >= m.cfg.AutoSellThreshold
}
