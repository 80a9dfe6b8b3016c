// Package arbitrage detects intra-market pricing edges on binary markets:
// a YES+NO pair that can be bought for less than its 1.0 payout.
package arbitrage

import (
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// sampleEvery controls how often near-miss evaluations are logged.
const sampleEvery = 1000

// Config configures the detector.
type Config struct {
	MinEdgeBps        int     // edge must exceed this after fees
	FeeBpsPerLeg      int     // venue fee charged on each leg
	Legs              int     // legs per round trip, 2 for YES+NO
	SlippageBufferBps int     // extra haircut applied by EvaluateDepth
	DepthAware        bool    // use EvaluateDepth when ladders are known
	SizeUSD           float64 // provisional size carried by the signal
}

// TotalFeeBps is the round-trip fee assumption.
func (c Config) TotalFeeBps() int {
	return c.Legs * c.FeeBpsPerLeg
}

// Detector evaluates market snapshots for BuyBoth opportunities. It holds
// no mutable state that affects results; the evaluation counter only drives
// sampled debug logging.
type Detector struct {
	cfg    Config
	logger *slog.Logger
	evals  atomic.Uint64
}

// NewDetector creates a detector.
func NewDetector(cfg Config, logger *slog.Logger) *Detector {
	if cfg.Legs <= 0 {
		cfg.Legs = 2
	}
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "arb_detector")),
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// EdgeBps returns the fee-adjusted edge of buying one YES+NO pair at the
// given prices.
func (d *Detector) EdgeBps(yes, no float64) int {
	return toBps(1-(yes+no)) - d.cfg.TotalFeeBps()
}

// Evaluate returns a BuyBoth signal when the market's best asks leave more
// than MinEdgeBps after fees, and NoSignal otherwise.
func (d *Detector) Evaluate(m domain.MarketSnapshot) domain.TradeSignal {
	if m.YesPrice <= 0 || m.NoPrice <= 0 {
		return domain.NoSignal
	}
	edge := d.EdgeBps(m.YesPrice, m.NoPrice)
	d.sample(m, edge)
	if edge <= d.cfg.MinEdgeBps {
		return domain.NoSignal
	}
	return domain.BuyBoth(m.ID, m.YesPrice, m.NoPrice, d.cfg.SizeUSD, edge)
}

// Auto uses the depth-aware evaluation when configured and both ladders
// are present, and Evaluate otherwise.
func (d *Detector) Auto(m domain.MarketSnapshot, notional float64) domain.TradeSignal {
	if d.cfg.DepthAware && len(m.YesAsks) > 0 && len(m.NoAsks) > 0 {
		return d.EvaluateDepth(m, notional)
	}
	return d.Evaluate(m)
}

func (d *Detector) sample(m domain.MarketSnapshot, edge int) {
	if d.evals.Add(1)%sampleEvery != 0 {
		return
	}
	d.logger.Debug("edge sample",
		slog.String("market", m.ID),
		slog.Float64("yes", m.YesPrice),
		slog.Float64("no", m.NoPrice),
		slog.Int("edge_bps", edge),
		slog.Int("min_edge_bps", d.cfg.MinEdgeBps),
	)
}

// toBps converts a fraction to whole basis points, truncating toward zero.
// Values within 1e-6 bps of an integer snap to it so that 1-(0.4+0.4)
// yields 2000 rather than 1999.
func toBps(v float64) int {
	bps := v * 10000
	if r := math.Round(bps); math.Abs(bps-r) < 1e-6 {
		bps = r
	}
	return int(bps)
}
