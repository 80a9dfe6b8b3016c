package domain

import "context"

// MarketInterface is the trading venue as seen by the decision loop. Live,
// paper and simulated backends implement it.
type MarketInterface interface {
	GetActiveMarkets(ctx context.Context) ([]MarketSnapshot, error)
	// GetMarketDetails fails with ErrNotFound while the market is unindexed.
	GetMarketDetails(ctx context.Context, marketID string) (MarketSnapshot, error)
	GetBalance(ctx context.Context) (float64, error)
	// PlaceOrder buys sizeUSD worth of the side's token at price. Errors wrap
	// ErrInvalidSide, ErrInsufficient, ErrSigningFailed or ErrSubmission.
	PlaceOrder(ctx context.Context, order OrderRequest) (string, error)
}

// ResolutionOracle answers whether a condition has paid out and redeems
// winning positions.
type ResolutionOracle interface {
	IsResolved(ctx context.Context, conditionID string) (bool, error)
	Redeem(ctx context.Context, conditionID string) (string, error)
}

// Subscriber accepts asset ids for the market-data stream. Calls never block.
type Subscriber interface {
	Subscribe(assetIDs []string)
}
