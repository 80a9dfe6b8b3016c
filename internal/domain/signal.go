package domain

import "time"

// SignalKind discriminates the TradeSignal variants.
type SignalKind string

const (
	SignalNone    SignalKind = ""
	SignalBuyBoth SignalKind = "buy_both"
	SignalSnipe   SignalKind = "snipe"
)

// TradeSignal is the output of a detector evaluation. The zero value is the
// None signal. BuyBoth fills YesPrice, NoPrice, SizeUSD and EdgeBps; Snipe
// fills Side, Price and SizeUSD.
type TradeSignal struct {
	Kind     SignalKind
	MarketID string

	YesPrice float64
	NoPrice  float64
	EdgeBps  int

	Side  Side
	Price float64

	SizeUSD float64
}

// NoSignal is the None variant.
var NoSignal = TradeSignal{}

// BuyBoth builds a BuyBoth signal.
func BuyBoth(marketID string, yes, no, sizeUSD float64, edgeBps int) TradeSignal {
	return TradeSignal{
		Kind:     SignalBuyBoth,
		MarketID: marketID,
		YesPrice: yes,
		NoPrice:  no,
		SizeUSD:  sizeUSD,
		EdgeBps:  edgeBps,
	}
}

// Snipe builds a single-side Snipe signal.
func Snipe(marketID string, side Side, price, sizeUSD float64) TradeSignal {
	return TradeSignal{
		Kind:     SignalSnipe,
		MarketID: marketID,
		Side:     side,
		Price:    price,
		SizeUSD:  sizeUSD,
	}
}

// IsNone reports whether the signal asks for no action.
func (s TradeSignal) IsNone() bool {
	return s.Kind == SignalNone
}

// WithSize returns a copy of s carrying a new dollar size.
func (s TradeSignal) WithSize(sizeUSD float64) TradeSignal {
	s.SizeUSD = sizeUSD
	return s
}

// EntryPrice is the per-share cost of the signal: the pair cost for
// BuyBoth and the side price for Snipe.
func (s TradeSignal) EntryPrice() float64 {
	switch s.Kind {
	case SignalBuyBoth:
		return s.YesPrice + s.NoPrice
	case SignalSnipe:
		return s.Price
	}
	return 0
}

// PositionSide is the position side the signal opens.
func (s TradeSignal) PositionSide() Side {
	if s.Kind == SignalBuyBoth {
		return SideBoth
	}
	return s.Side
}

// RetryEntry tracks a metadata fetch that has not succeeded yet.
type RetryEntry struct {
	MarketID string
	Attempt  int
	QueuedAt time.Time
}
