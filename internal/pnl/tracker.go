// Package pnl keeps the portfolio ledger: cash, open positions, closed
// trades and periodic valuation snapshots. The decision loop writes to it
// and the reporting server reads from it, so every method takes the lock.
package pnl

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// maxSnapshots bounds snapshot history; the oldest entries are dropped.
const maxSnapshots = 50_000

// Tracker is the mutex-guarded portfolio ledger.
type Tracker struct {
	mu sync.RWMutex

	initialCapital float64
	cash           float64
	positions      map[string]domain.Position // trade id
	trades         []domain.Trade
	snapshots      []domain.PortfolioSnapshot
	now            func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker holding initialCapital in cash.
func NewTracker(initialCapital float64, opts ...Option) *Tracker {
	t := &Tracker{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]domain.Position),
		now:            time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// AddPosition records a new position and debits its cost from cash.
func (t *Tracker) AddPosition(pos domain.Position) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.positions[pos.TradeID]; ok {
		return fmt.Errorf("pnl: add position %s: %w", pos.TradeID, domain.ErrAlreadyExists)
	}
	if pos.CurrentPrice == 0 {
		pos.CurrentPrice = pos.EntryPrice
	}
	t.cash -= pos.SizeUSD
	t.positions[pos.TradeID] = pos
	return nil
}

// UpdateMarketPrice marks every position in the market to the new prices.
// YES tracks yes, NO tracks no and BOTH tracks the pair cost yes+no.
// Non-positive prices leave the mark unchanged.
func (t *Tracker) UpdateMarketPrice(marketID string, yes, no float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, p := range t.positions {
		if p.MarketID != marketID {
			continue
		}
		var price float64
		switch p.Side {
		case domain.SideYes:
			price = yes
		case domain.SideNo:
			price = no
		case domain.SideBoth:
			if yes > 0 && no > 0 {
				price = yes + no
			}
		}
		if price > 0 {
			p.CurrentPrice = price
			t.positions[id] = p
		}
	}
}

// ClosePosition closes a position at its last marked price and returns the
// realized PnL.
func (t *Tracker) ClosePosition(tradeID string) (float64, bool) {
	trade, ok := t.CloseAt(tradeID, 0, domain.ExitManual)
	return trade.PnL, ok
}

// CloseAt closes a position at exitPrice, or at the last mark when
// exitPrice is 0. Cash is credited with size plus PnL.
func (t *Tracker) CloseAt(tradeID string, exitPrice float64, reason domain.ExitReason) (domain.Trade, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[tradeID]
	if !ok {
		return domain.Trade{}, false
	}
	delete(t.positions, tradeID)
	if exitPrice > 0 {
		p.CurrentPrice = exitPrice
	}
	realized := p.UnrealizedPnL()
	t.cash += p.SizeUSD + realized

	trade := domain.Trade{
		TradeID:    p.TradeID,
		MarketID:   p.MarketID,
		Question:   p.Question,
		Side:       p.Side,
		SizeUSD:    p.SizeUSD,
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.CurrentPrice,
		PnL:        realized,
		Reason:     reason,
		EntryTime:  p.EntryTime,
		ExitTime:   t.now(),
	}
	t.trades = append(t.trades, trade)
	return trade, true
}

// TakeSnapshot records and returns the current valuation.
func (t *Tracker) TakeSnapshot() domain.PortfolioSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	positionsValue, unrealized := t.valueLocked()
	snap := domain.PortfolioSnapshot{
		Timestamp:      t.now(),
		Cash:           t.cash,
		PositionsValue: positionsValue,
		TotalValue:     t.cash + positionsValue,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    t.realizedLocked(),
		OpenPositions:  len(t.positions),
	}
	t.snapshots = append(t.snapshots, snap)
	if len(t.snapshots) > maxSnapshots {
		t.snapshots = append(t.snapshots[:0:0], t.snapshots[len(t.snapshots)-maxSnapshots:]...)
	}
	return snap
}

// Cash returns uninvested cash.
func (t *Tracker) Cash() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cash
}

// PortfolioValue is cash plus the marked value of open positions.
func (t *Tracker) PortfolioValue() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, _ := t.valueLocked()
	return t.cash + v
}

// Positions returns open positions ordered by entry time.
func (t *Tracker) Positions() []domain.Position {
	t.mu.RLock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Trades returns closed trades, oldest first.
func (t *Tracker) Trades() []domain.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]domain.Trade(nil), t.trades...)
}

// Snapshots returns the most recent n snapshots, oldest first. n <= 0
// returns all of them.
func (t *Tracker) Snapshots(n int) []domain.PortfolioSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snapshots
	if n > 0 && len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]domain.PortfolioSnapshot(nil), s...)
}

func (t *Tracker) valueLocked() (value, unrealized float64) {
	for _, p := range t.positions {
		u := p.UnrealizedPnL()
		unrealized += u
		value += p.SizeUSD + u
	}
	return value, unrealized
}

func (t *Tracker) realizedLocked() float64 {
	var total float64
	for _, tr := range t.trades {
		total += tr.PnL
	}
	return total
}
