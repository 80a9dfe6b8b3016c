package domain

import (
	"fmt"
	"strings"
	"time"
)

// Side identifies which outcome token of a binary market a price or
// position refers to.
type Side string

const (
	SideYes  Side = "YES"
	SideNo   Side = "NO"
	SideBoth Side = "BOTH" // hedged YES+NO pair
)

// ParseSide normalises a side label ("yes", "No", "BOTH").
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	case SideBoth:
		return SideBoth, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// MarketState records how much is known about a market.
type MarketState string

const (
	// MarketStateSynthetic is a market bootstrapped from an on-chain event
	// before the metadata index has it. Volume and liquidity are unknown.
	MarketStateSynthetic MarketState = "synthetic"
	// MarketStateIndexed is a market described by the metadata API.
	MarketStateIndexed MarketState = "indexed"
)

// MarketSnapshot is the decision loop's view of one binary market. It is a
// value type: updates build a modified copy and replace the table entry.
type MarketSnapshot struct {
	ID        string // condition id
	Question  string
	EndTime   *time.Time
	Volume    float64
	Liquidity float64
	Volume24h float64
	YesPrice  float64 // best ask of the YES token
	NoPrice   float64 // best ask of the NO token
	Imbalance float64
	AssetIDs  []string // [YES, NO]
	State     MarketState

	// Latest ask ladders, kept for depth-aware evaluation.
	YesAsks []PriceLevel
	NoAsks  []PriceLevel

	UpdatedAt time.Time
}

// Synthetic reports whether the market is still waiting on metadata.
func (m MarketSnapshot) Synthetic() bool {
	return m.State == MarketStateSynthetic
}

// AssetFor returns the asset id of the given side, or "" when unknown.
func (m MarketSnapshot) AssetFor(side Side) string {
	switch side {
	case SideYes:
		if len(m.AssetIDs) > 0 {
			return m.AssetIDs[0]
		}
	case SideNo:
		if len(m.AssetIDs) > 1 {
			return m.AssetIDs[1]
		}
	}
	return ""
}

// PriceFor returns the tracked price for a side. BOTH is the cost of one
// YES+NO pair.
func (m MarketSnapshot) PriceFor(side Side) float64 {
	switch side {
	case SideYes:
		return m.YesPrice
	case SideNo:
		return m.NoPrice
	case SideBoth:
		return m.YesPrice + m.NoPrice
	}
	return 0
}

// TimeRemaining returns the time until EndTime and false when the market
// has no end time.
func (m MarketSnapshot) TimeRemaining(now time.Time) (time.Duration, bool) {
	if m.EndTime == nil {
		return 0, false
	}
	return m.EndTime.Sub(now), true
}

// Label is a short human-readable name for logs.
func (m MarketSnapshot) Label() string {
	if m.Question != "" {
		return m.Question
	}
	return m.ID
}

// AssetSide is the value side of the asset map: the market an outcome token
// belongs to and which side it is.
type AssetSide struct {
	MarketID string
	Side     Side
}
