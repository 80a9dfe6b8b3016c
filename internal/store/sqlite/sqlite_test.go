package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPositions_UpsertListDelete(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	p := domain.Position{
		TradeID: "buy_both_m1_1", MarketID: "m1", Question: "Q?", Side: domain.SideBoth,
		SizeUSD: 10, EntryPrice: 0.9, CurrentPrice: 0.9, EntryTime: base,
	}
	require.NoError(t, s.UpsertPosition(ctx, p))
	p.CurrentPrice = 0.95
	require.NoError(t, s.UpsertPosition(ctx, p))

	got, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, p, got[0])

	require.NoError(t, s.DeletePosition(ctx, p.TradeID))
	err = s.DeletePosition(ctx, p.TradeID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err = s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTrades_NewestFirstWithPaging(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		tr := domain.Trade{
			TradeID: string(rune('a' + i)), MarketID: "m", Side: domain.SideYes,
			SizeUSD: 5, EntryPrice: 0.5, ExitPrice: 1, PnL: 5, Reason: domain.ExitRedeemed,
			EntryTime: base, ExitTime: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.RecordTrade(ctx, tr))
	}
	// duplicate ignored
	require.NoError(t, s.RecordTrade(ctx, domain.Trade{TradeID: "a", ExitTime: base.Add(time.Hour)}))

	all, err := s.ListTrades(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].TradeID)
	assert.Equal(t, domain.ExitRedeemed, all[0].Reason)
	assert.Equal(t, base.Add(3*time.Minute), all[0].ExitTime)

	page, err := s.ListTrades(ctx, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].TradeID)
	assert.Equal(t, "b", page[1].TradeID)

	skipped, err := s.ListTrades(ctx, domain.ListOpts{Offset: 3})
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "a", skipped[0].TradeID)

	since := base.Add(2 * time.Minute)
	recent, err := s.ListTrades(ctx, domain.ListOpts{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSnapshots(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordSnapshot(ctx, domain.PortfolioSnapshot{
			Timestamp: base.Add(time.Duration(i) * time.Second), Cash: 1000 - float64(i),
			TotalValue: 1000, OpenPositions: i,
		}))
	}
	got, err := s.ListSnapshots(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].OpenPositions)
	assert.Equal(t, 998.0, got[0].Cash)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordSnapshot(context.Background(), domain.PortfolioSnapshot{Timestamp: base}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.ListSnapshots(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
