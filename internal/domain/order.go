package domain

import "time"

// OrderRequest is one leg handed to a MarketInterface.
type OrderRequest struct {
	MarketID string
	AssetID  string
	Side     Side
	Price    float64
	SizeUSD  float64
}

// Shares is the token quantity the order buys.
func (o OrderRequest) Shares() float64 {
	if o.Price <= 0 {
		return 0
	}
	return o.SizeUSD / o.Price
}

// LegResult records the outcome of a single order leg.
type LegResult struct {
	Side    Side    `json:"side"`
	Price   float64 `json:"price"`
	SizeUSD float64 `json:"size_usd"`
	OrderID string  `json:"order_id,omitempty"`
	Err     error   `json:"-"`
}

// Filled reports whether the leg was accepted by the venue.
func (l LegResult) Filled() bool {
	return l.Err == nil && l.OrderID != ""
}

// Execution is the result of executing one TradeSignal.
type Execution struct {
	TradeID   string
	Signal    TradeSignal
	Legs      []LegResult
	StartedAt time.Time
	Duration  time.Duration
}

// FilledUSD sums the dollar size of accepted legs.
func (e Execution) FilledUSD() float64 {
	var total float64
	for _, l := range e.Legs {
		if l.Filled() {
			total += l.SizeUSD
		}
	}
	return total
}

// Complete reports whether every leg was accepted.
func (e Execution) Complete() bool {
	if len(e.Legs) == 0 {
		return false
	}
	for _, l := range e.Legs {
		if !l.Filled() {
			return false
		}
	}
	return true
}

// Err returns the first leg error.
func (e Execution) Err() error {
	for _, l := range e.Legs {
		if l.Err != nil {
			return l.Err
		}
	}
	return nil
}
