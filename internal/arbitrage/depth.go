package arbitrage

import (
	"sort"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Fill describes buying a dollar notional by walking an ask ladder.
type Fill struct {
	BestPrice   float64 // lowest ask
	AvgPrice    float64 // size-weighted fill price
	WorstPrice  float64 // deepest level touched
	Shares      float64
	Notional    float64
	SlippageBps float64 // (AvgPrice - BestPrice) / BestPrice * 10000
}

// WalkAsks spends notional dollars against the asks from the cheapest level
// up. The last level touched contributes only the remainder. ok is false
// when the ladder cannot absorb the notional.
func WalkAsks(asks []domain.PriceLevel, notional float64) (Fill, bool) {
	if notional <= 0 {
		return Fill{}, false
	}
	levels := make([]domain.PriceLevel, 0, len(asks))
	for _, lvl := range asks {
		if lvl.Price > 0 && lvl.Size > 0 {
			levels = append(levels, lvl)
		}
	}
	if len(levels) == 0 {
		return Fill{}, false
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })

	f := Fill{BestPrice: levels[0].Price}
	remaining := notional
	for _, lvl := range levels {
		cost := lvl.Price * lvl.Size
		take := cost
		if remaining < cost {
			take = remaining
		}
		f.Shares += take / lvl.Price
		f.Notional += take
		f.WorstPrice = lvl.Price
		remaining -= take
		if remaining <= 1e-9 {
			break
		}
	}
	if remaining > 1e-9 {
		return Fill{}, false
	}
	f.AvgPrice = f.Notional / f.Shares
	f.SlippageBps = (f.AvgPrice - f.BestPrice) / f.BestPrice * 10000
	return f, true
}

// EvaluateDepth is Evaluate with execution cost: both ladders are walked
// for notional dollars per side and the resulting slippage, plus the
// configured buffer, is charged against the edge before the threshold test.
// The signal carries the best prices and the net edge.
func (d *Detector) EvaluateDepth(m domain.MarketSnapshot, notional float64) domain.TradeSignal {
	if m.YesPrice <= 0 || m.NoPrice <= 0 {
		return domain.NoSignal
	}
	yes, ok := WalkAsks(m.YesAsks, notional)
	if !ok {
		return domain.NoSignal
	}
	no, ok := WalkAsks(m.NoAsks, notional)
	if !ok {
		return domain.NoSignal
	}
	slippage := int(yes.SlippageBps+no.SlippageBps) + d.cfg.SlippageBufferBps
	edge := d.EdgeBps(yes.BestPrice, no.BestPrice) - slippage
	d.sample(m, edge)
	if edge <= d.cfg.MinEdgeBps {
		return domain.NoSignal
	}
	return domain.BuyBoth(m.ID, yes.BestPrice, no.BestPrice, d.cfg.SizeUSD, edge)
}

// Slippage returns the combined slippage in bps of buying notional dollars
// on each side, or 0 when either ladder is unknown.
func Slippage(m domain.MarketSnapshot, notional float64) float64 {
	yes, ok := WalkAsks(m.YesAsks, notional)
	if !ok {
		return 0
	}
	no, ok := WalkAsks(m.NoAsks, notional)
	if !ok {
		return 0
	}
	return yes.SlippageBps + no.SlippageBps
}
