package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
	"github.com/alanyoungcy/polysniper/internal/pnl"
	"github.com/alanyoungcy/polysniper/internal/server/handler"
)

type fakeExposure struct{}

func (fakeExposure) Exposure() float64       { return 10 }
func (fakeExposure) MaxExposureUSD() float64 { return 500 }

type fakeMarkets int

func (f fakeMarkets) ActiveMarkets() int { return int(f) }

type fakeHistory struct{ opts domain.ListOpts }

func (f *fakeHistory) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	f.opts = opts
	return []domain.Trade{{TradeID: "from-store"}}, nil
}

func newTestServer(t *testing.T, apiKey string, history handler.TradeHistory) (*httptest.Server, *pnl.Tracker) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracker := pnl.NewTracker(1000)
	require.NoError(t, tracker.AddPosition(domain.Position{
		TradeID: "t1", MarketID: "m1", Side: domain.SideBoth, SizeUSD: 10, EntryPrice: 0.9, CurrentPrice: 0.9,
		EntryTime: time.Now(),
	}))
	tracker.TakeSnapshot()

	m := metrics.New()
	srv := NewServer(Config{Addr: ":0", APIKey: apiKey}, Handlers{
		Health:     handler.NewHealthHandler("paper"),
		Portfolio:  handler.NewPortfolioHandler(tracker, fakeExposure{}, fakeMarkets(7), history, logger),
		Metrics:    m.Handler(),
		Instrument: m.Middleware,
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, tracker
}

func getJSON(t *testing.T, url string, header http.Header, into any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestServer_Routes(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	var health map[string]any
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", nil, &health))
	assert.Equal(t, "paper", health["mode"])

	var positions struct {
		Positions []domain.Position `json:"positions"`
		Exposure  float64           `json:"exposure_usd"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/positions", nil, &positions))
	require.Len(t, positions.Positions, 1)
	assert.Equal(t, "t1", positions.Positions[0].TradeID)
	assert.Equal(t, 10.0, positions.Exposure)

	var markets map[string]int
	getJSON(t, ts.URL+"/api/markets", nil, &markets)
	assert.Equal(t, 7, markets["active_markets"])

	var pnlResp struct {
		Cash    float64                    `json:"cash"`
		History []domain.PortfolioSnapshot `json:"history"`
	}
	getJSON(t, ts.URL+"/api/pnl", nil, &pnlResp)
	assert.Equal(t, 990.0, pnlResp.Cash)
	assert.Len(t, pnlResp.History, 1)

	var stats domain.Stats
	getJSON(t, ts.URL+"/api/stats", nil, &stats)
	assert.Equal(t, 1, stats.OpenPositions)
	assert.Equal(t, 1000.0, stats.InitialCapital)

	var trades struct {
		Trades []domain.Trade `json:"trades"`
	}
	getJSON(t, ts.URL+"/api/trades", nil, &trades)
	assert.NotNil(t, trades.Trades)
	assert.Empty(t, trades.Trades)
}

func TestServer_TradesFromHistory(t *testing.T) {
	history := &fakeHistory{}
	ts, _ := newTestServer(t, "", history)

	var trades struct {
		Trades []domain.Trade `json:"trades"`
	}
	getJSON(t, ts.URL+"/api/trades?limit=900&offset=3&since=2026-01-02T00:00:00Z", nil, &trades)
	require.Len(t, trades.Trades, 1)
	assert.Equal(t, "from-store", trades.Trades[0].TradeID)
	assert.Equal(t, 500, history.opts.Limit)
	assert.Equal(t, 3, history.opts.Offset)
	require.NotNil(t, history.opts.Since)
	assert.Equal(t, 2, history.opts.Since.Day())
}

func TestServer_AuthGuardsAPIButNotHealth(t *testing.T) {
	ts, _ := newTestServer(t, "secret", nil)

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/health", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, ts.URL+"/api/positions", nil, nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/positions",
		http.Header{"Authorization": {"Bearer secret"}}, nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/stats",
		http.Header{"X-Api-Key": {"secret"}}, nil))
}

func TestServer_CORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/positions", nil)
	req.Header.Set("Origin", "https://dash.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://dash.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_Metrics(t *testing.T) {
	ts, _ := newTestServer(t, "", nil)
	getJSON(t, ts.URL+"/api/health", nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `route="/api/health"`)
}
