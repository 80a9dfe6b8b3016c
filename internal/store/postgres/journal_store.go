package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// JournalStore implements domain.JournalStore on PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// UpsertPosition inserts a position or refreshes its mark.
func (s *JournalStore) UpsertPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			trade_id, market_id, question, side, size_usd,
			entry_price, current_price, entry_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (trade_id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			size_usd      = EXCLUDED.size_usd,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.TradeID, p.MarketID, p.Question, string(p.Side), p.SizeUSD,
		p.EntryPrice, p.CurrentPrice, p.EntryTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.TradeID, err)
	}
	return nil
}

// DeletePosition removes an open position. Deleting an unknown trade id
// returns domain.ErrNotFound.
func (s *JournalStore) DeletePosition(ctx context.Context, tradeID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM positions WHERE trade_id = $1", tradeID)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete position %s: %w", tradeID, domain.ErrNotFound)
	}
	return nil
}

// ListPositions returns open positions, oldest first.
func (s *JournalStore) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT trade_id, market_id, question, side, size_usd,
		       entry_price, current_price, entry_time
		FROM positions ORDER BY entry_time`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	positions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		var p domain.Position
		var side string
		err := row.Scan(&p.TradeID, &p.MarketID, &p.Question, &side, &p.SizeUSD,
			&p.EntryPrice, &p.CurrentPrice, &p.EntryTime)
		p.Side = domain.Side(side)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// RecordTrade appends a closed trade. Re-recording a trade id is a no-op.
func (s *JournalStore) RecordTrade(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			trade_id, market_id, question, side, size_usd,
			entry_price, exit_price, pnl, reason, entry_time, exit_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (trade_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.TradeID, t.MarketID, t.Question, string(t.Side), t.SizeUSD,
		t.EntryPrice, t.ExitPrice, t.PnL, string(t.Reason), t.EntryTime, t.ExitTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: record trade %s: %w", t.TradeID, err)
	}
	return nil
}

// ListTrades returns trades newest first.
func (s *JournalStore) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`
		SELECT trade_id, market_id, question, side, size_usd,
		       entry_price, exit_price, pnl, reason, entry_time, exit_time
		FROM trades`, "exit_time", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Trade, error) {
		var t domain.Trade
		var side, reason string
		err := row.Scan(&t.TradeID, &t.MarketID, &t.Question, &side, &t.SizeUSD,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &reason, &t.EntryTime, &t.ExitTime)
		t.Side, t.Reason = domain.Side(side), domain.ExitReason(reason)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// RecordSnapshot appends a portfolio snapshot.
func (s *JournalStore) RecordSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	const query = `
		INSERT INTO portfolio_snapshots (
			taken_at, cash, positions_value, total_value,
			unrealized_pnl, realized_pnl, open_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.Timestamp, snap.Cash, snap.PositionsValue, snap.TotalValue,
		snap.UnrealizedPnL, snap.RealizedPnL, snap.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("postgres: record snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *JournalStore) ListSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	query, args := listQuery(`
		SELECT taken_at, cash, positions_value, total_value,
		       unrealized_pnl, realized_pnl, open_positions
		FROM portfolio_snapshots`, "taken_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	snaps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PortfolioSnapshot, error) {
		var p domain.PortfolioSnapshot
		err := row.Scan(&p.Timestamp, &p.Cash, &p.PositionsValue, &p.TotalValue,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.OpenPositions)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots: %w", err)
	}
	return snaps, nil
}

// listQuery appends the Since filter, newest-first ordering and paging to
// base using numbered placeholders.
func listQuery(base, tsCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	var args []any
	if opts.Since != nil {
		args = append(args, *opts.Since)
		fmt.Fprintf(&b, " WHERE %s >= $%d", tsCol, len(args))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", tsCol)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

var _ domain.JournalStore = (*JournalStore)(nil)
