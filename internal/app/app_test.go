package app

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/store/sqlite"
)

func simConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = config.ModeSim
	cfg.Sim.Markets = 3
	cfg.Sim.Steps = 60
	cfg.Sim.DislocateEvery = 3
	cfg.Sim.TickInterval.Duration = time.Millisecond
	cfg.SQLite.Path = t.TempDir() + "/journal.db"
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestApp_Run_SimCompletesAndReports(t *testing.T) {
	cfg := simConfig(t)
	var out bytes.Buffer
	a := New(cfg, slog.New(slog.DiscardHandler))
	a.out = &out
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, a.Run(ctx))
	assert.Contains(t, out.String(), "polysniper sim run")
	assert.Contains(t, out.String(), "Initial capital")
}

func TestApp_Run_SimJournalsTrades(t *testing.T) {
	cfg := simConfig(t)
	var out bytes.Buffer
	a := New(cfg, slog.New(slog.DiscardHandler))
	a.out = &out

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))
	a.Close()

	store, err := sqlite.Open(cfg.SQLite.Path)
	require.NoError(t, err)
	defer store.Close()

	trades, err := store.ListTrades(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	for _, tr := range trades {
		assert.Equal(t, domain.ExitRedeemed, tr.Reason)
		assert.Equal(t, domain.SideBoth, tr.Side)
	}
}

func TestApp_Run_UnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	a := New(&cfg, slog.New(slog.DiscardHandler))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}

func TestDependencies_SinksFollowWiring(t *testing.T) {
	cfg := config.Defaults()
	cfg.SQLite.Path = ""
	cfg.Server.Enabled = true

	deps, cleanup, err := Wire(context.Background(), &cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Journal)
	assert.NotNil(t, deps.Metrics)
	names := make([]string, 0)
	for _, s := range deps.Sinks() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"ws"}, names, "notifier without senders is skipped")
}
