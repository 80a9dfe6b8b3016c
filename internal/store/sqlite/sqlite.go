// Package sqlite stores the trading journal in a local SQLite file using the
// pure-Go modernc driver. Paper and simulated runs use it when no PostgreSQL
// DSN is configured.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    trade_id      TEXT PRIMARY KEY,
    market_id     TEXT NOT NULL UNIQUE,
    question      TEXT NOT NULL DEFAULT '',
    side          TEXT NOT NULL,
    size_usd      REAL NOT NULL,
    entry_price   REAL NOT NULL,
    current_price REAL NOT NULL,
    entry_time    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    trade_id    TEXT PRIMARY KEY,
    market_id   TEXT NOT NULL,
    question    TEXT NOT NULL DEFAULT '',
    side        TEXT NOT NULL,
    size_usd    REAL NOT NULL,
    entry_price REAL NOT NULL,
    exit_price  REAL NOT NULL,
    pnl         REAL NOT NULL,
    reason      TEXT NOT NULL,
    entry_time  INTEGER NOT NULL,
    exit_time   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    taken_at        INTEGER NOT NULL,
    cash            REAL NOT NULL,
    positions_value REAL NOT NULL,
    total_value     REAL NOT NULL,
    unrealized_pnl  REAL NOT NULL,
    realized_pnl    REAL NOT NULL,
    open_positions  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_exit   ON trades(exit_time DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_at  ON portfolio_snapshots(taken_at DESC);
`

// Timestamps are stored as unix milliseconds.
func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// Store implements domain.JournalStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a throwaway journal.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Single writer; also keeps a :memory: database alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertPosition inserts a position or refreshes its mark.
func (s *Store) UpsertPosition(ctx context.Context, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions (trade_id, market_id, question, side, size_usd, entry_price, current_price, entry_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO UPDATE SET
			current_price = excluded.current_price,
			size_usd      = excluded.size_usd`,
		p.TradeID, p.MarketID, p.Question, string(p.Side), p.SizeUSD,
		p.EntryPrice, p.CurrentPrice, toMillis(p.EntryTime),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert position %s: %w", p.TradeID, err)
	}
	return nil
}

// DeletePosition removes an open position.
func (s *Store) DeletePosition(ctx context.Context, tradeID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE trade_id = ?", tradeID)
	if err != nil {
		return fmt.Errorf("sqlite: delete position %s: %w", tradeID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: delete position %s: %w", tradeID, domain.ErrNotFound)
	}
	return nil
}

// ListPositions returns open positions, oldest first.
func (s *Store) ListPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trade_id, market_id, question, side, size_usd, entry_price, current_price, entry_time
		FROM positions ORDER BY entry_time`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var side string
		var entry int64
		if err := rows.Scan(&p.TradeID, &p.MarketID, &p.Question, &side, &p.SizeUSD,
			&p.EntryPrice, &p.CurrentPrice, &entry); err != nil {
			return nil, fmt.Errorf("sqlite: scan position: %w", err)
		}
		p.Side, p.EntryTime = domain.Side(side), fromMillis(entry)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordTrade appends a closed trade. Re-recording a trade id is a no-op.
func (s *Store) RecordTrade(ctx context.Context, t domain.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (trade_id, market_id, question, side, size_usd,
			entry_price, exit_price, pnl, reason, entry_time, exit_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.MarketID, t.Question, string(t.Side), t.SizeUSD,
		t.EntryPrice, t.ExitPrice, t.PnL, string(t.Reason),
		toMillis(t.EntryTime), toMillis(t.ExitTime),
	)
	if err != nil {
		return fmt.Errorf("sqlite: record trade %s: %w", t.TradeID, err)
	}
	return nil
}

// ListTrades returns trades newest first.
func (s *Store) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(`SELECT trade_id, market_id, question, side, size_usd,
		entry_price, exit_price, pnl, reason, entry_time, exit_time FROM trades`, "exit_time", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side, reason string
		var entry, exit int64
		if err := rows.Scan(&t.TradeID, &t.MarketID, &t.Question, &side, &t.SizeUSD,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &reason, &entry, &exit); err != nil {
			return nil, fmt.Errorf("sqlite: scan trade: %w", err)
		}
		t.Side, t.Reason = domain.Side(side), domain.ExitReason(reason)
		t.EntryTime, t.ExitTime = fromMillis(entry), fromMillis(exit)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordSnapshot appends a portfolio snapshot.
func (s *Store) RecordSnapshot(ctx context.Context, snap domain.PortfolioSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (taken_at, cash, positions_value, total_value,
			unrealized_pnl, realized_pnl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		toMillis(snap.Timestamp), snap.Cash, snap.PositionsValue, snap.TotalValue,
		snap.UnrealizedPnL, snap.RealizedPnL, snap.OpenPositions,
	)
	if err != nil {
		return fmt.Errorf("sqlite: record snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns snapshots newest first.
func (s *Store) ListSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error) {
	query, args := listQuery(`SELECT taken_at, cash, positions_value, total_value,
		unrealized_pnl, realized_pnl, open_positions FROM portfolio_snapshots`, "taken_at", opts)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.PortfolioSnapshot
	for rows.Next() {
		var p domain.PortfolioSnapshot
		var at int64
		if err := rows.Scan(&at, &p.Cash, &p.PositionsValue, &p.TotalValue,
			&p.UnrealizedPnL, &p.RealizedPnL, &p.OpenPositions); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot: %w", err)
		}
		p.Timestamp = fromMillis(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

func listQuery(base, tsCol string, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	var args []any
	if opts.Since != nil {
		b.WriteString(" WHERE " + tsCol + " >= ?")
		args = append(args, toMillis(*opts.Since))
	}
	b.WriteString(" ORDER BY " + tsCol + " DESC")
	switch {
	case opts.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		// SQLite only accepts OFFSET after a LIMIT.
		b.WriteString(" LIMIT -1")
	}
	if opts.Offset > 0 {
		b.WriteString(" OFFSET ?")
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

var _ domain.JournalStore = (*Store)(nil)
