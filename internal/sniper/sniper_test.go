package sniper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/arbitrage"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/executor"
	"github.com/alanyoungcy/polysniper/internal/pnl"
	"github.com/alanyoungcy/polysniper/internal/queue"
	"github.com/alanyoungcy/polysniper/internal/risk"
	"github.com/alanyoungcy/polysniper/internal/sim"
	"github.com/alanyoungcy/polysniper/internal/sizing"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream struct {
	mu     sync.Mutex
	subs   [][]string
	reconn chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{reconn: make(chan struct{}, 1)}
}

func (f *fakeStream) Subscribe(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), ids...))
}

func (f *fakeStream) Reconnected() <-chan struct{} { return f.reconn }

func (f *fakeStream) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.subs...)
}

type events struct {
	ch chan domain.Event
}

func newEvents() *events { return &events{ch: make(chan domain.Event, 64)} }

func (e *events) Emit(ev domain.Event) bool {
	select {
	case e.ch <- ev:
		return true
	default:
		return false
	}
}

// next returns the next event of the given kind, skipping others.
func (e *events) next(t *testing.T, kind domain.EventKind) domain.Event {
	t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case ev := <-e.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return domain.Event{}
		}
	}
}

// fakeMarket serves metadata from functions so tests can script failures.
type fakeMarket struct {
	mu      sync.Mutex
	calls   int
	details func(call int, id string) (domain.MarketSnapshot, error)
	active  func() []domain.MarketSnapshot
}

func (f *fakeMarket) GetActiveMarkets(context.Context) ([]domain.MarketSnapshot, error) {
	if f.active == nil {
		return nil, nil
	}
	return f.active(), nil
}

func (f *fakeMarket) GetMarketDetails(_ context.Context, id string) (domain.MarketSnapshot, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.details(call, id)
}

func (f *fakeMarket) GetBalance(context.Context) (float64, error) { return 1000, nil }

func (f *fakeMarket) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "fake-order", nil
}

func (f *fakeMarket) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	s      *Sniper
	stream *fakeStream
	events *events
	ticks  *queue.Channel[domain.OrderBookUpdate]
	risk   *risk.Manager
	pnl    *pnl.Tracker
}

func newHarness(t *testing.T, market domain.MarketInterface, oracle domain.ResolutionOracle, cfg Config) *harness {
	t.Helper()
	logger := testLogger()
	ticks, err := queue.NewChannel[domain.OrderBookUpdate](64)
	require.NoError(t, err)

	h := &harness{
		stream: newFakeStream(),
		events: newEvents(),
		ticks:  ticks,
		risk: risk.NewManager(risk.Config{
			Capital:           1000,
			MaxPositionPct:    0.10,
			MaxExposurePct:    0.50,
			StopLossPct:       0.05,
			AutoSellThreshold: 0.99,
		}, logger),
		pnl: pnl.NewTracker(1000),
	}
	h.s = New(cfg, Deps{
		Market: market,
		Oracle: oracle,
		Stream: h.stream,
		Ticks:  ticks,
		Detector: arbitrage.NewDetector(arbitrage.Config{
			MinEdgeBps:   200,
			FeeBpsPerLeg: 40,
			Legs:         2,
		}, logger),
		Sizer: sizing.NewKelly(sizing.Config{
			KellyFraction:     0.25,
			MinPct:            0.01,
			MaxPct:            0.10,
			DefaultVolatility: 0.10,
		}),
		Risk:     h.risk,
		PnL:      h.pnl,
		Executor: executor.New(market, executor.Config{}, logger),
		Events:   h.events,
		DeriveAssetIDs: func(cid string) ([]string, error) {
			return []string{cid + "-derived-yes", cid + "-derived-no"}, nil
		},
	}, logger)
	return h
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for result")
	}
	var zero T
	return zero
}

func fairMarket(id string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		ID:        id,
		Question:  "Will " + id + " happen?",
		Volume:    50_000,
		Liquidity: 10_000,
		Volume24h: 5_000,
		YesPrice:  0.50,
		NoPrice:   0.50,
		AssetIDs:  []string{id + "-yes", id + "-no"},
		State:     domain.MarketStateIndexed,
	}
}

func askUpdate(asset string, price float64) domain.OrderBookUpdate {
	return domain.OrderBookUpdate{
		AssetID:    asset,
		Asks:       []domain.PriceLevel{{Price: price, Size: 500}},
		Bids:       []domain.PriceLevel{{Price: price - 0.02, Size: 500}},
		ReceivedAt: time.Now(),
	}
}

// openPair drives a market from fair prices to a 0.40/0.50 dislocation and
// records the resulting execution.
func openPair(t *testing.T, h *harness, m domain.MarketSnapshot) {
	t.Helper()
	ctx := context.Background()
	h.s.admit(ctx, m)
	h.s.handleTick(ctx, askUpdate(m.AssetIDs[0], 0.40))
	h.s.handleExecution(ctx, recv(t, h.s.execCh))
}

func TestSniper_Tick_OpensPairPosition(t *testing.T) {
	venue := sim.New(testLogger())
	m := fairMarket("0xa1")
	venue.LoadMarkets([]domain.MarketSnapshot{m})
	h := newHarness(t, venue, nil, Config{})
	ctx := context.Background()

	h.s.admit(ctx, m)
	assert.Equal(t, [][]string{{"0xa1-yes", "0xa1-no"}}, h.stream.calls())
	assert.Empty(t, h.s.inflight, "fair market must not trade")

	h.s.handleTick(ctx, askUpdate("0xa1-yes", 0.40))
	require.Contains(t, h.s.inflight, "0xa1")
	sig := h.events.next(t, domain.EventSignal)
	assert.Equal(t, domain.SignalBuyBoth, sig.Signal.Kind)
	assert.Equal(t, 920, sig.Signal.EdgeBps)

	// A second dislocated tick while the first execution is in flight is ignored.
	h.s.handleTick(ctx, askUpdate("0xa1-yes", 0.39))

	h.s.handleExecution(ctx, recv(t, h.s.execCh))
	assert.Empty(t, h.s.inflight)

	pos, ok := h.risk.Position("0xa1")
	require.True(t, ok)
	assert.Equal(t, domain.SideBoth, pos.Side)
	assert.InDelta(t, 0.90, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 10.0, pos.SizeUSD, 1e-9)
	assert.Len(t, h.pnl.Positions(), 1)
	assert.Len(t, venue.Fills(), 2)

	entry := h.events.next(t, domain.EventEntry)
	require.NotNil(t, entry.Position)
	assert.Equal(t, pos.TradeID, entry.Position.TradeID)

	// Held markets are not re-entered.
	h.s.handleTick(ctx, askUpdate("0xa1-no", 0.30))
	assert.Empty(t, h.s.inflight)
}

func TestSniper_Tick_UnknownAssetIgnored(t *testing.T) {
	h := newHarness(t, sim.New(testLogger()), nil, Config{})
	h.s.handleTick(context.Background(), askUpdate("nobody", 0.10))
	assert.Empty(t, h.s.markets)
	assert.Empty(t, h.s.inflight)
}

func TestSniper_Tick_PriceChangeDropsLadder(t *testing.T) {
	h := newHarness(t, sim.New(testLogger()), nil, Config{})
	ctx := context.Background()
	m := fairMarket("0xa2")
	m.YesPrice, m.NoPrice = 0.60, 0.45
	h.s.admit(ctx, m)

	h.s.handleTick(ctx, askUpdate("0xa2-no", 0.46))
	require.Len(t, h.s.markets["0xa2"].NoAsks, 1)

	h.s.handleTick(ctx, domain.OrderBookUpdate{
		AssetID: "0xa2-no",
		Asks:    []domain.PriceLevel{{Price: 0.47}},
		Bids:    []domain.PriceLevel{{Price: 0.44}},
	})
	got := h.s.markets["0xa2"]
	assert.InDelta(t, 0.47, got.NoPrice, 1e-9)
	assert.Nil(t, got.NoAsks)
}

func TestSniper_Tick_EmptyAskSnapshotClearsSide(t *testing.T) {
	h := newHarness(t, sim.New(testLogger()), nil, Config{})
	ctx := context.Background()
	h.s.admit(ctx, fairMarket("0xa3"))
	h.s.handleTick(ctx, askUpdate("0xa3-yes", 0.52))

	// A price change with no ask leaves the side alone.
	h.s.handleTick(ctx, domain.OrderBookUpdate{
		AssetID: "0xa3-yes",
		Bids:    []domain.PriceLevel{{Price: 0.49}},
	})
	assert.InDelta(t, 0.52, h.s.markets["0xa3"].YesPrice, 1e-9)

	h.s.handleTick(ctx, domain.OrderBookUpdate{
		AssetID:  "0xa3-yes",
		Bids:     []domain.PriceLevel{{Price: 0.45, Size: 10}},
		Asks:     []domain.PriceLevel{},
		Snapshot: true,
	})
	got := h.s.markets["0xa3"]
	assert.Zero(t, got.YesPrice)
	assert.Nil(t, got.YesAsks)

	h.s.handleTick(ctx, askUpdate("0xa3-no", 0.30))
	assert.Empty(t, h.s.inflight, "a side without asks cannot be bought")
}

func TestSniper_Condition_PromotesAndRemapsAssets(t *testing.T) {
	indexed := fairMarket("0xc1")
	indexed.AssetIDs = []string{"idx-yes", "idx-no"}
	market := &fakeMarket{details: func(call int, id string) (domain.MarketSnapshot, error) {
		if call == 1 {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return indexed, nil
	}}
	h := newHarness(t, market, nil, Config{})
	ctx := context.Background()

	h.s.handleCondition(ctx, "0xc1")
	require.Equal(t, [][]string{{"0xc1-derived-yes", "0xc1-derived-no"}}, h.stream.calls())
	require.True(t, h.s.markets["0xc1"].Synthetic())

	h.s.handleCondition(ctx, "0xc1")
	assert.Len(t, h.stream.calls(), 1, "repeated condition is ignored")

	h.s.handleMetadata(ctx, recv(t, h.s.metaCh))
	require.Len(t, h.s.retries, 1)
	assert.Equal(t, 2, h.s.retries[0].Attempt)

	h.s.flushRetries(ctx)
	assert.Empty(t, h.s.retries)
	h.s.handleMetadata(ctx, recv(t, h.s.metaCh))

	got := h.s.markets["0xc1"]
	assert.Equal(t, domain.MarketStateIndexed, got.State)
	assert.Equal(t, []string{"idx-yes", "idx-no"}, got.AssetIDs)
	assert.Equal(t, domain.AssetSide{MarketID: "0xc1", Side: domain.SideYes}, h.s.assets["idx-yes"])
	assert.NotContains(t, h.s.assets, "0xc1-derived-yes")
	assert.Equal(t, []string{"idx-yes", "idx-no"}, h.stream.calls()[1])
	assert.Empty(t, h.s.fetching)
}

func TestSniper_Metadata_AbandonsAfterMaxAttempts(t *testing.T) {
	market := &fakeMarket{details: func(int, string) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}}
	h := newHarness(t, market, nil, Config{MaxAttempts: 3})
	ctx := context.Background()

	h.s.handleCondition(ctx, "0xc2")
	for i := 0; i < 3; i++ {
		h.s.handleMetadata(ctx, recv(t, h.s.metaCh))
		h.s.flushRetries(ctx)
	}
	assert.Equal(t, 3, market.callCount())
	assert.Empty(t, h.s.retries)
	assert.Empty(t, h.s.fetching)
	assert.NotContains(t, h.s.markets, "0xc2")
	assert.NotContains(t, h.s.assets, "0xc2-derived-yes")
	assert.NotContains(t, h.s.assets, "0xc2-derived-no")
	assert.Zero(t, h.s.ActiveMarkets())

	// Dislocated ticks on the derived ids no longer reach the detector.
	h.s.handleTick(ctx, askUpdate("0xc2-derived-yes", 0.40))
	h.s.handleTick(ctx, askUpdate("0xc2-derived-no", 0.40))
	assert.Empty(t, h.s.inflight)
	_, held := h.risk.Position("0xc2")
	assert.False(t, held)

	h.s.handleCondition(ctx, "0xc2")
	h.s.resubscribe(ctx)
	assert.Len(t, h.stream.calls(), 1, "abandoned ids are never subscribed again")
}

func TestSniper_Metadata_AbandonKeepsHeldMarket(t *testing.T) {
	market := &fakeMarket{details: func(int, string) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}}
	h := newHarness(t, market, nil, Config{MaxAttempts: 1})
	ctx := context.Background()

	h.s.handleCondition(ctx, "0xc4")
	h.s.handleTick(ctx, askUpdate("0xc4-derived-yes", 0.40))
	h.s.handleTick(ctx, askUpdate("0xc4-derived-no", 0.40))
	h.s.handleExecution(ctx, recv(t, h.s.execCh))
	_, held := h.risk.Position("0xc4")
	require.True(t, held)

	h.s.handleMetadata(ctx, recv(t, h.s.metaCh))
	assert.Empty(t, h.s.retries)
	assert.Contains(t, h.s.markets, "0xc4")
	assert.Contains(t, h.s.assets, "0xc4-derived-yes")
}

func TestSniper_FlushRetries_BoundedBatch(t *testing.T) {
	block := make(chan struct{})
	market := &fakeMarket{details: func(int, string) (domain.MarketSnapshot, error) {
		<-block
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}}
	h := newHarness(t, market, nil, Config{RetryBatch: 2})
	defer close(block)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		h.s.retries = append(h.s.retries, domain.RetryEntry{MarketID: id, Attempt: 2})
	}
	h.s.flushRetries(context.Background())
	assert.Len(t, h.s.retries, 3)
	assert.Equal(t, "c", h.s.retries[0].MarketID)
	assert.Eventually(t, func() bool { return market.callCount() == 2 }, waitFor, 5*time.Millisecond)
}

func TestSniper_Synthetic_BypassesFilters(t *testing.T) {
	market := &fakeMarket{details: func(int, string) (domain.MarketSnapshot, error) {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}}
	h := newHarness(t, market, nil, Config{Filters: Filters{MinVolume: 1_000_000}})

	h.s.handleCondition(context.Background(), "0xc3")
	assert.Equal(t, 1, h.s.ActiveMarkets())
}

func TestSniper_PassesFilters(t *testing.T) {
	h := newHarness(t, &fakeMarket{}, nil, Config{Filters: Filters{MinVolume: 100, MinLiquidity: 50, MinVolume24h: 10}})

	tests := []struct {
		name   string
		mutate func(*domain.MarketSnapshot)
		reason string
	}{
		{"passes", func(*domain.MarketSnapshot) {}, ""},
		{"low volume", func(m *domain.MarketSnapshot) { m.Volume = 99 }, "volume"},
		{"low liquidity", func(m *domain.MarketSnapshot) { m.Liquidity = 1 }, "liquidity"},
		{"low 24h volume", func(m *domain.MarketSnapshot) { m.Volume24h = 0 }, "volume_24h"},
		{"synthetic", func(m *domain.MarketSnapshot) {
			*m = domain.MarketSnapshot{ID: "x", State: domain.MarketStateSynthetic}
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fairMarket("0xf")
			tt.mutate(&m)
			reason, ok := h.s.passesFilters(m)
			assert.Equal(t, tt.reason == "", ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSniper_Poll_FirstRunOnlyMarksSeen(t *testing.T) {
	var mu sync.Mutex
	list := []domain.MarketSnapshot{fairMarket("0xold")}
	market := &fakeMarket{active: func() []domain.MarketSnapshot {
		mu.Lock()
		defer mu.Unlock()
		return append([]domain.MarketSnapshot(nil), list...)
	}}
	h := newHarness(t, market, nil, Config{Filters: Filters{MinVolume: 1_000}})
	ctx := context.Background()

	h.s.poll(ctx)
	h.s.poll(ctx)
	h.s.handlePoll(ctx, recv(t, h.s.pollCh))
	assert.Empty(t, h.s.pollCh, "overlapping poll is skipped")
	assert.Equal(t, 0, h.s.ActiveMarkets())
	assert.Contains(t, h.s.seen, "0xold")

	thin := fairMarket("0xthin")
	thin.Volume = 10
	mu.Lock()
	list = append(list, fairMarket("0xnew"), thin)
	mu.Unlock()

	h.s.poll(ctx)
	h.s.handlePoll(ctx, recv(t, h.s.pollCh))
	assert.Equal(t, 1, h.s.ActiveMarkets())
	assert.Contains(t, h.s.markets, "0xnew")
	assert.NotContains(t, h.s.markets, "0xthin")
	assert.Contains(t, h.s.seen, "0xthin")
}

func TestSniper_Poll_PromotesSyntheticMarket(t *testing.T) {
	indexed := fairMarket("0xc4")
	market := &fakeMarket{
		details: func(int, string) (domain.MarketSnapshot, error) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		},
		active: func() []domain.MarketSnapshot { return []domain.MarketSnapshot{indexed} },
	}
	h := newHarness(t, market, nil, Config{})
	ctx := context.Background()
	h.s.primed = true

	h.s.handleCondition(ctx, "0xc4")
	h.s.poll(ctx)
	h.s.handlePoll(ctx, recv(t, h.s.pollCh))

	got := h.s.markets["0xc4"]
	assert.False(t, got.Synthetic())
	assert.Equal(t, indexed.AssetIDs, got.AssetIDs)
	assert.Empty(t, h.s.fetching)
}

func TestSniper_Resubscribe_AllAssets(t *testing.T) {
	h := newHarness(t, &fakeMarket{}, nil, Config{})
	ctx := context.Background()
	h.s.admit(ctx, fairMarket("0xb"))
	h.s.admit(ctx, fairMarket("0xa"))

	h.s.resubscribe(ctx)
	calls := h.stream.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"0xa-no", "0xa-yes", "0xb-no", "0xb-yes"}, calls[2])
}

func TestSniper_ManagePositions_StopLossAndTakeProfit(t *testing.T) {
	h := newHarness(t, &fakeMarket{}, nil, Config{})
	ctx := context.Background()
	entered := time.Now().Add(-time.Hour)

	loser := fairMarket("0xsl")
	loser.YesPrice, loser.NoPrice = 0.47, 0.55
	winner := fairMarket("0xtp")
	winner.YesPrice, winner.NoPrice = 0.02, 0.995
	h.s.admit(ctx, loser)
	h.s.admit(ctx, winner)

	for _, p := range []domain.Position{
		{TradeID: "t-sl", MarketID: "0xsl", Side: domain.SideYes, SizeUSD: 10, EntryPrice: 0.50, EntryTime: entered},
		{TradeID: "t-tp", MarketID: "0xtp", Side: domain.SideNo, SizeUSD: 10, EntryPrice: 0.90, EntryTime: entered},
	} {
		require.NoError(t, h.risk.AddPosition(p))
		require.NoError(t, h.pnl.AddPosition(p))
	}

	h.s.managePositions(ctx)
	assert.Empty(t, h.risk.Positions())

	trades := h.pnl.Trades()
	require.Len(t, trades, 2)
	reasons := map[string]domain.ExitReason{}
	for _, tr := range trades {
		reasons[tr.TradeID] = tr.Reason
	}
	assert.Equal(t, domain.ExitStopLoss, reasons["t-sl"])
	assert.Equal(t, domain.ExitTakeProfit, reasons["t-tp"])
	h.events.next(t, domain.EventExit)
}

func TestSniper_ManagePositions_HoldsPairs(t *testing.T) {
	h := newHarness(t, &fakeMarket{}, nil, Config{})
	ctx := context.Background()
	m := fairMarket("0xp")
	m.YesPrice, m.NoPrice = 0.20, 0.20
	h.s.markets[m.ID] = m
	p := domain.Position{TradeID: "t-p", MarketID: "0xp", Side: domain.SideBoth, SizeUSD: 10, EntryPrice: 0.90, EntryTime: time.Now().Add(-time.Hour)}
	require.NoError(t, h.risk.AddPosition(p))

	h.s.managePositions(ctx)
	_, ok := h.risk.Position("0xp")
	assert.True(t, ok)
}

func TestSniper_Redemption_ClosesResolvedPair(t *testing.T) {
	venue := sim.New(testLogger())
	m := fairMarket("0xr1")
	venue.LoadMarkets([]domain.MarketSnapshot{m})
	h := newHarness(t, venue, venue, Config{})
	ctx := context.Background()
	openPair(t, h, m)

	h.s.checkRedemptions(ctx)
	h.s.handleRedemptions(ctx, recv(t, h.s.redeemCh))
	_, ok := h.risk.Position("0xr1")
	require.True(t, ok, "unresolved market keeps its position")

	venue.Resolve("0xr1")
	h.s.checkRedemptions(ctx)
	h.s.handleRedemptions(ctx, recv(t, h.s.redeemCh))

	_, ok = h.risk.Position("0xr1")
	assert.False(t, ok)
	trades := h.pnl.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitRedeemed, trades[0].Reason)
	assert.InDelta(t, 1.0, trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 10.0/0.9*0.1, trades[0].PnL, 1e-9)

	ev := h.events.next(t, domain.EventRedeem)
	assert.Equal(t, "0xr1", ev.MarketID)
}

func TestSniper_RefreshPnL_RecordsSnapshot(t *testing.T) {
	venue := sim.New(testLogger())
	m := fairMarket("0xp1")
	venue.LoadMarkets([]domain.MarketSnapshot{m})
	h := newHarness(t, venue, nil, Config{})
	ctx := context.Background()

	h.s.refreshPnL(ctx)
	assert.Len(t, h.pnl.Snapshots(0), 1, "no positions snapshots inline")
	assert.Equal(t, 0, h.events.next(t, domain.EventSnapshot).Snapshot.OpenPositions)

	openPair(t, h, m)
	h.s.refreshPnL(ctx)
	h.s.handleRefresh(ctx, recv(t, h.s.refreshCh))

	ev := h.events.next(t, domain.EventSnapshot)
	require.NotNil(t, ev.Snapshot)
	assert.Equal(t, 1, ev.Snapshot.OpenPositions)
}

func TestSniper_HandleExecution_RejectedLeavesNoPosition(t *testing.T) {
	h := newHarness(t, &fakeMarket{}, nil, Config{})
	h.s.inflight["0xe"] = 10
	h.s.handleExecution(context.Background(), execResult{
		order: executor.Order{TradeID: "t", Signal: domain.BuyBoth("0xe", 0.4, 0.5, 10, 920)},
		err:   domain.ErrDuplicate,
	})
	assert.Empty(t, h.s.inflight)
	assert.Empty(t, h.risk.Positions())
	ev := h.events.next(t, domain.EventError)
	assert.Contains(t, ev.Message, "duplicate")
}

func TestPositionFrom(t *testing.T) {
	order := executor.Order{
		TradeID: "t1",
		Signal:  domain.BuyBoth("0xm", 0.40, 0.50, 9, 920),
		Market:  domain.MarketSnapshot{ID: "0xm", Question: "q"},
	}
	yes := domain.LegResult{Side: domain.SideYes, Price: 0.40, SizeUSD: 4, OrderID: "o1"}
	no := domain.LegResult{Side: domain.SideNo, Price: 0.50, SizeUSD: 5, OrderID: "o2"}
	failed := domain.LegResult{Side: domain.SideNo, Price: 0.50, SizeUSD: 5, Err: errors.New("rejected")}

	pos, ok := positionFrom(order, domain.Execution{Legs: []domain.LegResult{yes, no}})
	require.True(t, ok)
	assert.Equal(t, domain.SideBoth, pos.Side)
	assert.InDelta(t, 0.90, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 9.0, pos.SizeUSD, 1e-9)
	assert.Equal(t, "q", pos.Question)

	pos, ok = positionFrom(order, domain.Execution{Legs: []domain.LegResult{yes, failed}})
	require.True(t, ok)
	assert.Equal(t, domain.SideYes, pos.Side)
	assert.InDelta(t, 0.40, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 4.0, pos.SizeUSD, 1e-9)

	_, ok = positionFrom(order, domain.Execution{Legs: []domain.LegResult{failed}})
	assert.False(t, ok)
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "duplicate", rejectReason(domain.ErrDuplicatePosition))
	assert.Equal(t, "exposure", rejectReason(domain.ErrExposureLimit))
	assert.Equal(t, "confidence", rejectReason(domain.ErrLowConfidence))
	assert.Equal(t, "other", rejectReason(errors.New("x")))
}

func TestSniper_Run_SimulatedEndToEnd(t *testing.T) {
	venue := sim.New(testLogger())
	m := fairMarket("0xrun")
	venue.LoadMarkets([]domain.MarketSnapshot{m})
	h := newHarness(t, venue, venue, Config{
		TrackExisting:  true,
		PollInterval:   time.Hour,
		RedeemInterval: time.Hour,
		PnLInterval:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx) }()

	require.Eventually(t, func() bool { return h.s.ActiveMarkets() == 1 }, waitFor, 5*time.Millisecond)
	require.True(t, h.ticks.Send(askUpdate("0xrun-no", 0.40)))

	entry := h.events.next(t, domain.EventEntry)
	assert.Equal(t, "0xrun", entry.MarketID)
	assert.Equal(t, domain.SideBoth, entry.Position.Side)

	h.stream.reconn <- struct{}{}
	require.Eventually(t, func() bool { return len(h.stream.calls()) == 2 }, waitFor, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not stop")
	}
	assert.Len(t, h.pnl.Positions(), 1)
}
