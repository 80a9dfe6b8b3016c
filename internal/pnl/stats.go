package pnl

import (
	"math"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// tradingDays annualises the per-snapshot Sharpe ratio.
const tradingDays = 252

// Stats summarises performance from trades and snapshot history.
func (t *Tracker) Stats() domain.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	positionsValue, unrealized := t.valueLocked()
	realized := t.realizedLocked()
	value := t.cash + positionsValue

	s := domain.Stats{
		TotalTrades:    len(t.trades),
		UnrealizedPnL:  unrealized,
		RealizedPnL:    realized,
		TotalPnL:       realized + unrealized,
		OpenPositions:  len(t.positions),
		PortfolioValue: value,
		InitialCapital: t.initialCapital,
		SharpeRatio:    sharpe(t.snapshots),
		MaxDrawdown:    maxDrawdown(t.initialCapital, t.snapshots),
	}
	if t.initialCapital > 0 {
		s.ReturnPct = (value - t.initialCapital) / t.initialCapital * 100
	}
	for i, tr := range t.trades {
		if tr.PnL > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		if i == 0 || tr.PnL > s.BestTrade {
			s.BestTrade = tr.PnL
		}
		if i == 0 || tr.PnL < s.WorstTrade {
			s.WorstTrade = tr.PnL
		}
	}
	if n := len(t.trades); n > 0 {
		s.WinRate = float64(s.Wins) / float64(n)
		s.AvgPnL = realized / float64(n)
	}
	return s
}

// sharpe is mean/stddev of snapshot-to-snapshot returns, annualised.
func sharpe(snaps []domain.PortfolioSnapshot) float64 {
	if len(snaps) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(snaps)-1)
	for i := 1; i < len(snaps); i++ {
		prev := snaps[i-1].TotalValue
		if prev == 0 {
			continue
		}
		returns = append(returns, (snaps[i].TotalValue-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDays)
}

// maxDrawdown is the largest peak-to-trough fall, as a fraction of the peak.
func maxDrawdown(initial float64, snaps []domain.PortfolioSnapshot) float64 {
	peak, worst := initial, 0.0
	for _, s := range snaps {
		if s.TotalValue > peak {
			peak = s.TotalValue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - s.TotalValue) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}
