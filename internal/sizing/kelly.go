// Package sizing turns an edge into a dollar position size with a
// fractional Kelly criterion.
package sizing

import "math"

const (
	atomicWinProbability = 0.98
	baseWinProbability   = 0.90
	minWinProbability    = 0.5
)

// Config configures the sizer.
type Config struct {
	KellyFraction     float64 // 0.25 is quarter-Kelly
	MinPct            float64 // lower clamp as a fraction of capital
	MaxPct            float64 // upper clamp as a fraction of capital
	DefaultVolatility float64
}

// Kelly sizes positions from edge, win probability and volatility.
type Kelly struct {
	cfg Config
}

// NewKelly creates a sizer.
func NewKelly(cfg Config) *Kelly {
	return &Kelly{cfg: cfg}
}

// Size returns the dollar amount to commit. Degenerate inputs return 0;
// everything else lands in [capital*MinPct, capital*MaxPct].
//
//	e    = edgeBps / 10000
//	odds = e / (1 - e)
//	raw  = (p*odds - (1-p)) / odds
func (k *Kelly) Size(edgeBps int, winProbability, capital, volatility float64) float64 {
	if edgeBps <= 0 || winProbability <= 0 || capital <= 0 {
		return 0
	}
	e := float64(edgeBps) / 10000
	if e >= 1 {
		return k.clamp(capital*k.cfg.MaxPct, capital)
	}
	odds := e / (1 - e)
	p := winProbability
	raw := (p*odds - (1 - p)) / odds

	fraction := raw * k.cfg.KellyFraction
	if volatility > 0 {
		fraction *= 1 - math.Min(0.5, volatility*0.5)
	}
	return k.clamp(capital*fraction, capital)
}

// FixedFraction sizes capital*pct, clamped like Size.
func (k *Kelly) FixedFraction(capital, pct float64) float64 {
	if capital <= 0 {
		return 0
	}
	return k.clamp(capital*pct, capital)
}

// EstimateVolatility returns the configured default. There is no per-market
// history yet.
func (k *Kelly) EstimateVolatility(string) float64 {
	return k.cfg.DefaultVolatility
}

func (k *Kelly) clamp(sizeUSD, capital float64) float64 {
	lo, hi := capital*k.cfg.MinPct, capital*k.cfg.MaxPct
	return math.Min(math.Max(sizeUSD, lo), hi)
}

// WinProbability estimates the chance an entry completes as priced. Atomic
// bundles are near certain; otherwise slippage erodes it down to a floor.
func WinProbability(atomic bool, slippageBps float64) float64 {
	if atomic {
		return atomicWinProbability
	}
	return math.Max(minWinProbability, baseWinProbability-slippageBps/10000*0.5)
}
