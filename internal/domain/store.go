package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// JournalStore persists the trading journal: open positions, closed trades
// and portfolio snapshots.
type JournalStore interface {
	UpsertPosition(ctx context.Context, pos Position) error
	DeletePosition(ctx context.Context, tradeID string) error
	ListPositions(ctx context.Context) ([]Position, error)
	RecordTrade(ctx context.Context, trade Trade) error
	ListTrades(ctx context.Context, opts ListOpts) ([]Trade, error)
	RecordSnapshot(ctx context.Context, snap PortfolioSnapshot) error
	ListSnapshots(ctx context.Context, opts ListOpts) ([]PortfolioSnapshot, error)
}
