package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

type fakeMarket struct {
	mu     sync.Mutex
	orders []domain.OrderRequest
	failOn domain.Side
}

func (f *fakeMarket) GetActiveMarkets(context.Context) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (f *fakeMarket) GetMarketDetails(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}

func (f *fakeMarket) GetBalance(context.Context) (float64, error) { return 1000, nil }

func (f *fakeMarket) PlaceOrder(_ context.Context, o domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	if o.Side == f.failOn {
		return "", fmt.Errorf("venue: %w", domain.ErrSubmission)
	}
	return fmt.Sprintf("order-%d", len(f.orders)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMarket = domain.MarketSnapshot{ID: "0xabc", AssetIDs: []string{"yes-token", "no-token"}}

func TestLegs_BuyBothEqualShares(t *testing.T) {
	legs, err := Legs(domain.BuyBoth("0xabc", 0.40, 0.40, 80, 1920), testMarket)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	assert.Equal(t, "yes-token", legs[0].AssetID)
	assert.Equal(t, "no-token", legs[1].AssetID)
	assert.InDelta(t, 40, legs[0].SizeUSD, 1e-9)
	assert.InDelta(t, 40, legs[1].SizeUSD, 1e-9)
	assert.InDelta(t, legs[0].Shares(), legs[1].Shares(), 1e-9)
	assert.InDelta(t, 100, legs[0].Shares(), 1e-9)
}

func TestLegs_AsymmetricPair(t *testing.T) {
	legs, err := Legs(domain.BuyBoth("0xabc", 0.30, 0.60, 90, 900), testMarket)
	require.NoError(t, err)
	assert.InDelta(t, 30, legs[0].SizeUSD, 1e-9)
	assert.InDelta(t, 60, legs[1].SizeUSD, 1e-9)
	assert.InDelta(t, legs[0].Shares(), legs[1].Shares(), 1e-9)
}

func TestLegs_Invalid(t *testing.T) {
	_, err := Legs(domain.NoSignal, testMarket)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	_, err = Legs(domain.Snipe("0xabc", domain.SideYes, 0, 10), testMarket)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestExecutor_Execute_BuyBoth(t *testing.T) {
	m := &fakeMarket{}
	e := New(m, Config{}, testLogger())

	exec, err := e.Execute(context.Background(), Order{TradeID: "t1", Signal: domain.BuyBoth("0xabc", 0.4, 0.4, 80, 1920), Market: testMarket})
	require.NoError(t, err)
	assert.True(t, exec.Complete())
	assert.InDelta(t, 80, exec.FilledUSD(), 1e-9)
	assert.Equal(t, "order-1", exec.Legs[0].OrderID)
	assert.Equal(t, "order-2", exec.Legs[1].OrderID)
}

func TestExecutor_Execute_Snipe(t *testing.T) {
	m := &fakeMarket{}
	e := New(m, Config{}, testLogger())

	exec, err := e.Execute(context.Background(), Order{TradeID: "t1", Signal: domain.Snipe("0xabc", domain.SideNo, 0.95, 10), Market: testMarket})
	require.NoError(t, err)
	require.Len(t, m.orders, 1)
	assert.Equal(t, "no-token", m.orders[0].AssetID)
	assert.True(t, exec.Complete())
}

func TestExecutor_Execute_AllOrNoneSkipsRemainingLegs(t *testing.T) {
	m := &fakeMarket{failOn: domain.SideYes}
	e := New(m, Config{Policy: LegPolicyAllOrNone}, testLogger())

	exec, err := e.Execute(context.Background(), Order{TradeID: "t1", Signal: domain.BuyBoth("0xabc", 0.4, 0.4, 80, 1920), Market: testMarket})
	require.NoError(t, err)
	assert.Len(t, m.orders, 1, "NO leg is never sent")
	require.Len(t, exec.Legs, 2)
	assert.ErrorIs(t, exec.Legs[0].Err, domain.ErrSubmission)
	assert.ErrorIs(t, exec.Legs[1].Err, domain.ErrLegSkipped)
	assert.False(t, exec.Complete())
	assert.Zero(t, exec.FilledUSD())
}

func TestExecutor_Execute_BestEffortReportsPartialFill(t *testing.T) {
	m := &fakeMarket{failOn: domain.SideYes}
	e := New(m, Config{Policy: LegPolicyBestEffort}, testLogger())

	exec, err := e.Execute(context.Background(), Order{TradeID: "t1", Signal: domain.BuyBoth("0xabc", 0.4, 0.4, 80, 1920), Market: testMarket})
	require.NoError(t, err)
	assert.Len(t, m.orders, 2)
	assert.False(t, exec.Complete())
	assert.InDelta(t, 40, exec.FilledUSD(), 1e-9)
	assert.ErrorIs(t, exec.Err(), domain.ErrSubmission)
}

func TestExecutor_Execute_RejectsDuplicateTradeID(t *testing.T) {
	m := &fakeMarket{}
	e := New(m, Config{}, testLogger())
	order := Order{TradeID: "t1", Signal: domain.Snipe("0xabc", domain.SideYes, 0.95, 10), Market: testMarket}

	_, err := e.Execute(context.Background(), order)
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), order)
	assert.True(t, errors.Is(err, domain.ErrDuplicate))
	assert.Len(t, m.orders, 1)
}

func TestDedup_ExpiresAfterTTL(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, d.Cleanup())
	assert.Zero(t, d.Len())
	assert.False(t, d.IsDuplicate("a"))
}
