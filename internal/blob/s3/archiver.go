package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const cursorPath = "journal/cursor.json"

// JournalSource is the read side of the journal the archiver drains.
type JournalSource interface {
	ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error)
	ListSnapshots(ctx context.Context, opts domain.ListOpts) ([]domain.PortfolioSnapshot, error)
}

// Cursor is the newest archived timestamp per record kind.
type Cursor struct {
	Trades    time.Time `json:"trades"`
	Snapshots time.Time `json:"snapshots"`
}

// Archiver periodically uploads journal records newer than its cursor as
// JSONL objects under journal/<kind>/<date>/<unix>.jsonl.
type Archiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	journal  JournalSource
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	cursor Cursor
}

// NewArchiver creates an Archiver. reader may be nil, in which case every
// process start archives the full journal once.
func NewArchiver(w domain.BlobWriter, r domain.BlobReader, journal JournalSource, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		writer:   w,
		reader:   r,
		journal:  journal,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on every interval and once more on shutdown.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.loadCursor(ctx); err != nil {
		a.logger.WarnContext(ctx, "cursor unavailable, archiving from start", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.archive(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.archive(ctx)
		}
	}
}

func (a *Archiver) archive(ctx context.Context) {
	n, err := a.ArchiveOnce(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		a.logger.InfoContext(ctx, "journal archived", slog.Int("records", n))
	}
}

// ArchiveOnce uploads everything recorded after the cursor and advances it.
// It returns the number of records uploaded.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	now := a.now().UTC()
	next := a.cursor

	trades, err := a.journal.ListTrades(ctx, domain.ListOpts{Since: sinceOf(a.cursor.Trades)})
	if err != nil {
		return 0, fmt.Errorf("s3blob: list trades: %w", err)
	}
	trades = newerThan(trades, a.cursor.Trades, func(t domain.Trade) time.Time { return t.ExitTime })
	if err := upload(ctx, a, "trades", now, trades); err != nil {
		return 0, err
	}
	next.Trades = latest(trades, a.cursor.Trades, func(t domain.Trade) time.Time { return t.ExitTime })

	snaps, err := a.journal.ListSnapshots(ctx, domain.ListOpts{Since: sinceOf(a.cursor.Snapshots)})
	if err != nil {
		return len(trades), fmt.Errorf("s3blob: list snapshots: %w", err)
	}
	snaps = newerThan(snaps, a.cursor.Snapshots, func(s domain.PortfolioSnapshot) time.Time { return s.Timestamp })
	if err := upload(ctx, a, "snapshots", now, snaps); err != nil {
		a.cursor.Trades = next.Trades
		return len(trades), err
	}
	next.Snapshots = latest(snaps, a.cursor.Snapshots, func(s domain.PortfolioSnapshot) time.Time { return s.Timestamp })

	n := len(trades) + len(snaps)
	if next == a.cursor {
		return n, nil
	}
	a.cursor = next
	if err := a.saveCursor(ctx); err != nil {
		return n, err
	}
	return n, nil
}

func upload[T any](ctx context.Context, a *Archiver, kind string, now time.Time, records []T) error {
	if len(records) == 0 {
		return nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", kind, err)
	}
	path := ArchivePath(kind, now)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", kind, err)
	}
	return nil
}

func (a *Archiver) loadCursor(ctx context.Context) error {
	if a.reader == nil {
		return nil
	}
	body, err := a.reader.Get(ctx, cursorPath)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer body.Close()
	var c Cursor
	if err := json.NewDecoder(body).Decode(&c); err != nil {
		return fmt.Errorf("s3blob: decode cursor: %w", err)
	}
	a.cursor = c
	return nil
}

func (a *Archiver) saveCursor(ctx context.Context) error {
	data, err := json.Marshal(a.cursor)
	if err != nil {
		return fmt.Errorf("s3blob: encode cursor: %w", err)
	}
	if err := a.writer.Put(ctx, cursorPath, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: save cursor: %w", err)
	}
	return nil
}

// ArchivePath is the object key for one archive run of kind.
//
//	journal/trades/2026-03-01/1772366400.jsonl
func ArchivePath(kind string, at time.Time) string {
	return fmt.Sprintf("journal/%s/%s/%d.jsonl", kind, at.UTC().Format(time.DateOnly), at.Unix())
}

func sinceOf(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func newerThan[T any](records []T, cursor time.Time, ts func(T) time.Time) []T {
	out := records[:0:0]
	for _, r := range records {
		if ts(r).After(cursor) {
			out = append(out, r)
		}
	}
	return out
}

func latest[T any](records []T, cursor time.Time, ts func(T) time.Time) time.Time {
	for _, r := range records {
		if t := ts(r); t.After(cursor) {
			cursor = t
		}
	}
	return cursor
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
