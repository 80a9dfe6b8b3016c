package sim

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/queue"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSim(t *testing.T) *MarketSimulator {
	t.Helper()
	s := New(testLogger())
	s.LoadMarkets(DemoMarkets(2, start))
	return s
}

func TestMarketSimulator_PlaceOrder_DebitsBalance(t *testing.T) {
	s := newSim(t)
	ctx := context.Background()

	bal, err := s.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultBalance, bal)

	id, err := s.PlaceOrder(ctx, domain.OrderRequest{MarketID: "m", Side: domain.SideYes, Price: 0.4, SizeUSD: 400})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "sim-order-"))

	bal, _ = s.GetBalance(ctx)
	assert.Equal(t, 9600.0, bal)
	require.Len(t, s.Fills(), 1)
	assert.Equal(t, id, s.Fills()[0].OrderID)
}

func TestMarketSimulator_PlaceOrder_Rejections(t *testing.T) {
	s := New(testLogger(), WithBalance(10))
	ctx := context.Background()

	_, err := s.PlaceOrder(ctx, domain.OrderRequest{MarketID: "m", Side: domain.SideYes, Price: 0.4, SizeUSD: 11})
	assert.ErrorIs(t, err, domain.ErrInsufficient)

	_, err = s.PlaceOrder(ctx, domain.OrderRequest{MarketID: "m", Side: domain.SideBoth, Price: 0.4, SizeUSD: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSide)
}

func TestMarketSimulator_GetMarketDetails(t *testing.T) {
	s := newSim(t)
	markets, err := s.GetActiveMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)

	m, err := s.GetMarketDetails(context.Background(), markets[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sim-1-yes", "sim-1-no"}, m.AssetIDs)

	_, err = s.GetMarketDetails(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMarketSimulator_NextTick(t *testing.T) {
	s := newSim(t)
	id := DemoMarkets(1, start)[0].ID
	s.LoadTicks([]Tick{
		{Timestamp: start, MarketID: id, Price: 0.55, Volume: 100},
		{Timestamp: start.Add(time.Second), MarketID: id, Price: 0.40, NoPrice: 0.45, Volume: 50},
	})
	require.Equal(t, 2, s.Remaining())

	_, updates, ok := s.NextTick()
	require.True(t, ok)
	require.Len(t, updates, 2)
	ask, _ := updates[1].BestAsk()
	assert.InDelta(t, 0.45, ask, 1e-9)

	m, _ := s.GetMarketDetails(context.Background(), id)
	assert.Equal(t, 0.55, m.YesPrice)
	assert.InDelta(t, 0.45, m.NoPrice, 1e-9)
	assert.Equal(t, 50_100.0, m.Volume)

	_, _, ok = s.NextTick()
	require.True(t, ok)
	m, _ = s.GetMarketDetails(context.Background(), id)
	assert.Equal(t, 0.45, m.NoPrice, "explicit NO price wins")

	_, _, ok = s.NextTick()
	assert.False(t, ok)
	assert.Zero(t, s.Remaining())
}

func TestMarketSimulator_ResolveAndRedeem(t *testing.T) {
	s := newSim(t)
	ctx := context.Background()
	id := DemoMarkets(1, start)[0].ID

	_, err := s.Redeem(ctx, id)
	assert.Error(t, err)

	s.Resolve(id)
	resolved, err := s.IsResolved(ctx, id)
	require.NoError(t, err)
	assert.True(t, resolved)

	tx, err := s.Redeem(ctx, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tx, "sim-tx-"))
	again, _ := s.Redeem(ctx, id)
	assert.Equal(t, tx, again)

	markets, _ := s.GetActiveMarkets(ctx)
	assert.Len(t, markets, 1, "resolved markets are no longer active")
}

func TestReadTicksCSV(t *testing.T) {
	tape := "timestamp_ms,market_id,price,volume,no_price\n" +
		"1700000000000,0xabc,0.52,120\n" +
		"1700000001000,0xabc,0.48,80,0.47\n"

	ticks, err := ReadTicksCSV(strings.NewReader(tape))
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, time.UnixMilli(1700000000000), ticks[0].Timestamp)
	assert.Equal(t, 0.52, ticks[0].Price)
	assert.Zero(t, ticks[0].NoPrice)
	assert.Equal(t, 0.47, ticks[1].NoPrice)

	_, err = ReadTicksCSV(strings.NewReader("1,0xabc,1.5,10\n"))
	assert.Error(t, err)
	_, err = ReadTicksCSV(strings.NewReader("1,0xabc\n"))
	assert.Error(t, err)
}

func TestGenerateTicks_SeededAndBounded(t *testing.T) {
	markets := DemoMarkets(3, start)
	a := GenerateTicks(markets, 200, 10, 42, start)
	b := GenerateTicks(markets, 200, 10, 42, start)
	require.Len(t, a, 200)
	assert.Equal(t, a, b)

	dislocated := 0
	for _, tk := range a {
		assert.Greater(t, tk.Price, 0.0)
		assert.Less(t, tk.Price, 1.0)
		if tk.NoPrice > 0 {
			dislocated++
			assert.Less(t, tk.Price+tk.NoPrice, 1.0)
		}
	}
	assert.Positive(t, dislocated)
	assert.Nil(t, GenerateTicks(nil, 10, 0, 1, start))
}

func TestMarketSimulator_Replay(t *testing.T) {
	s := newSim(t)
	s.LoadTicks(GenerateTicks(DemoMarkets(2, start), 5, 0, 7, start))
	out, err := queue.NewChannel[domain.OrderBookUpdate](64)
	require.NoError(t, err)

	require.NoError(t, s.Replay(context.Background(), out, time.Millisecond))
	assert.Equal(t, 10, out.Len())
}
