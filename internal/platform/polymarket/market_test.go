package polymarket

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func newPaperMarket(t *testing.T, balance float64) *Market {
	t.Helper()
	g := newGamma(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(gammaMarkets))
	})
	m, err := NewMarket(g, nil, MarketConfig{Paper: true, PaperBalance: balance}, testLogger())
	require.NoError(t, err)
	return m
}

func TestNewMarket_LiveRequiresClob(t *testing.T) {
	g := NewGammaClient(GammaConfig{}, testLogger())
	_, err := NewMarket(g, nil, MarketConfig{}, testLogger())
	assert.Error(t, err)
}

func TestMarket_PaperOrder(t *testing.T) {
	m := newPaperMarket(t, 100)
	ctx := context.Background()

	id, err := m.PlaceOrder(ctx, domain.OrderRequest{MarketID: "0xAAA", Side: domain.SideYes, Price: 0.4, SizeUSD: 40})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "paper-order-"))

	bal, err := m.GetBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60.0, bal)

	_, err = m.PlaceOrder(ctx, domain.OrderRequest{MarketID: "0xAAA", Side: domain.SideNo, Price: 0.4, SizeUSD: 61})
	assert.ErrorIs(t, err, domain.ErrInsufficient)
}

func TestMarket_PlaceOrder_Validation(t *testing.T) {
	m := newPaperMarket(t, 100)
	ctx := context.Background()

	_, err := m.PlaceOrder(ctx, domain.OrderRequest{MarketID: "x", Side: domain.SideBoth, Price: 0.4, SizeUSD: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSide)

	_, err = m.PlaceOrder(ctx, domain.OrderRequest{MarketID: "x", Side: domain.SideYes, Price: 1.2, SizeUSD: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestMarket_DelegatesMetadata(t *testing.T) {
	m := newPaperMarket(t, 100)

	markets, err := m.GetActiveMarkets(context.Background())
	require.NoError(t, err)
	assert.Len(t, markets, 2)

	snap, err := m.GetMarketDetails(context.Background(), "0xBBB")
	require.NoError(t, err)
	assert.Equal(t, "Reversed?", snap.Question)
}
