package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookUpdate is one tick from the market-data stream. Incremental
// price changes carry a single synthetic level per side with size 0.
type OrderBookUpdate struct {
	AssetID    string
	Bids       []PriceLevel
	Asks       []PriceLevel
	Timestamp  time.Time
	Hash       string
	ReceivedAt time.Time

	// Snapshot marks a full book. An empty side of a snapshot has no
	// resting orders, while an empty side of a price change is unchanged.
	Snapshot bool
}

// BestAsk returns the lowest positive ask price. Levels priced at or below
// zero are not orders and take no part in the comparison; the stream
// decoder drops them before they get here.
func (u OrderBookUpdate) BestAsk() (float64, bool) {
	best, ok := 0.0, false
	for _, lvl := range u.Asks {
		if lvl.Price <= 0 {
			continue
		}
		if !ok || lvl.Price < best {
			best, ok = lvl.Price, true
		}
	}
	return best, ok
}

// BestBid returns the highest positive bid price, skipping non-positive
// levels like BestAsk.
func (u OrderBookUpdate) BestBid() (float64, bool) {
	best, ok := 0.0, false
	for _, lvl := range u.Bids {
		if lvl.Price <= 0 {
			continue
		}
		if !ok || lvl.Price > best {
			best, ok = lvl.Price, true
		}
	}
	return best, ok
}

// TotalAskLiquidity sums the size of every ask level.
func (u OrderBookUpdate) TotalAskLiquidity() float64 {
	return sumSizes(u.Asks)
}

// TotalBidLiquidity sums the size of every bid level.
func (u OrderBookUpdate) TotalBidLiquidity() float64 {
	return sumSizes(u.Bids)
}

// Imbalance is (bids - asks) / (bids + asks) over total size, in [-1, 1].
// An empty book has imbalance 0.
func (u OrderBookUpdate) Imbalance() float64 {
	bids, asks := u.TotalBidLiquidity(), u.TotalAskLiquidity()
	if bids+asks == 0 {
		return 0
	}
	return (bids - asks) / (bids + asks)
}

// HasDepth reports whether the ask side carries real sizes, as opposed to
// a best-price-only change event.
func (u OrderBookUpdate) HasDepth() bool {
	return u.TotalAskLiquidity() > 0
}

func sumSizes(levels []PriceLevel) float64 {
	var total float64
	for _, lvl := range levels {
		total += lvl.Size
	}
	return total
}
