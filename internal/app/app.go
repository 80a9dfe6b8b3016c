// Package app wires the sniper to its venue and infrastructure and runs it
// in the configured mode until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysniper/internal/affinity"
	"github.com/alanyoungcy/polysniper/internal/arbitrage"
	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/executor"
	"github.com/alanyoungcy/polysniper/internal/pnl"
	"github.com/alanyoungcy/polysniper/internal/queue"
	"github.com/alanyoungcy/polysniper/internal/recorder"
	"github.com/alanyoungcy/polysniper/internal/report"
	"github.com/alanyoungcy/polysniper/internal/risk"
	"github.com/alanyoungcy/polysniper/internal/server"
	"github.com/alanyoungcy/polysniper/internal/server/handler"
	"github.com/alanyoungcy/polysniper/internal/sizing"
	"github.com/alanyoungcy/polysniper/internal/sniper"
)

// App is the root application object. It owns the configuration, logger and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer // shutdown report
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
}

// Run wires the dependencies, starts the loop and its collaborators under
// one errgroup and blocks until ctx is cancelled or a simulation finishes.
// The stats report is printed on the way out.
func (a *App) Run(ctx context.Context) error {
	started := time.Now()
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	switch a.cfg.Mode {
	case config.ModeLive, config.ModePaper, config.ModeSim:
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	ticks, err := queue.NewChannel[domain.OrderBookUpdate](a.cfg.Sniper.TickBuffer)
	if err != nil {
		return fmt.Errorf("app: tick channel: %w", err)
	}

	var (
		v          *venue
		closeVenue func()
	)
	switch a.cfg.Mode {
	case config.ModeLive:
		v, closeVenue, err = a.polymarketVenue(ctx, ticks, deps.Metrics, false)
	case config.ModePaper:
		v, closeVenue, err = a.polymarketVenue(ctx, ticks, deps.Metrics, true)
	case config.ModeSim:
		v, closeVenue, err = a.simVenue(ctx, ticks)
	}
	if err != nil {
		return fmt.Errorf("app: %s venue: %w", a.cfg.Mode, err)
	}
	a.closers = append(a.closers, closeVenue)

	if v.lockKey != "" && deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, v.lockKey, a.cfg.Sniper.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: single-instance lock: %w", err)
		}
		a.closers = append(a.closers, unlock)
	}

	tracker, err := a.runLoop(ctx, deps, v, ticks)

	if tracker != nil {
		if rerr := report.Summary(a.out, a.cfg.Mode, time.Since(started), tracker.Stats(), tracker.Trades()); rerr != nil {
			a.logger.Warn("shutdown report failed", slog.String("error", rerr.Error()))
		}
	}

	if errors.Is(err, errSimComplete) {
		return nil
	}
	return err
}

// runLoop builds the decision loop for v and runs it with every background
// component until the group stops.
func (a *App) runLoop(ctx context.Context, deps *Dependencies, v *venue, ticks *queue.Channel[domain.OrderBookUpdate]) (*pnl.Tracker, error) {
	cfg := a.cfg

	capital := cfg.Sniper.InitialCapital
	if bal, err := v.market.GetBalance(ctx); err != nil {
		a.logger.WarnContext(ctx, "balance unavailable, using initial_capital",
			slog.Float64("initial_capital", capital),
			slog.String("error", err.Error()),
		)
	} else if bal > 0 {
		capital = bal
	}
	a.logger.InfoContext(ctx, "capital", slog.Float64("usd", capital))

	tracker := pnl.NewTracker(capital)
	riskMgr := risk.NewManager(risk.Config{
		Capital:           capital,
		MaxPositionPct:    cfg.Risk.MaxPositionPct,
		MaxExposurePct:    cfg.Risk.MaxExposurePct,
		StopLossPct:       cfg.Risk.StopLossPct,
		DynamicStopLoss:   cfg.Risk.DynamicStopLoss,
		MinHold:           cfg.Risk.MinHold.Duration,
		AutoSellThreshold: cfg.Risk.AutoSellThreshold,
	}, a.logger)
	exec := executor.New(v.market, executor.Config{
		DedupTTL:   cfg.Executor.DedupTTL.Duration,
		LegTimeout: cfg.Executor.LegTimeout.Duration,
		Policy:     executor.LegPolicy(cfg.Executor.LegPolicy),
	}, a.logger)
	rec := recorder.New(cfg.Sniper.EventBuffer, a.logger, deps.Sinks()...)

	redeemEvery := cfg.Sniper.RedeemInterval.Duration
	if v.redeemEvery > 0 {
		redeemEvery = v.redeemEvery
	}

	loopDeps := sniper.Deps{
		Market:         v.market,
		Oracle:         v.oracle,
		Stream:         v.stream,
		Ticks:          ticks,
		Conditions:     v.conditions,
		DeriveAssetIDs: v.deriveIDs,
		Detector: arbitrage.NewDetector(arbitrage.Config{
			MinEdgeBps:        cfg.Arbitrage.MinEdgeBps,
			FeeBpsPerLeg:      cfg.Arbitrage.FeeBpsPerLeg,
			Legs:              cfg.Arbitrage.Legs,
			SlippageBufferBps: cfg.Arbitrage.SlippageBufferBps,
			DepthAware:        cfg.Arbitrage.DepthAware,
			SizeUSD:           cfg.Arbitrage.MaxPositionUSD,
		}, a.logger),
		Expiration: arbitrage.NewExpiration(arbitrage.ExpirationConfig{
			Enabled:          cfg.Expiration.Enabled,
			MaxTimeRemaining: cfg.Expiration.MaxTimeRemaining.Duration,
			MinPrice:         cfg.Expiration.MinPrice,
			TargetPrice:      cfg.Expiration.TargetPrice,
			SizeUSD:          cfg.Expiration.SizeUSD,
		}, a.logger),
		Sizer: sizing.NewKelly(sizing.Config{
			KellyFraction:     cfg.Sizing.KellyFraction,
			MinPct:            cfg.Sizing.MinPct,
			MaxPct:            cfg.Sizing.MaxPct,
			DefaultVolatility: cfg.Sizing.DefaultVolatility,
		}),
		Risk:     riskMgr,
		PnL:      tracker,
		Executor: exec,
		Events:   rec,
		Metrics:  deps.Metrics,
	}
	if deps.Mirror != nil {
		loopDeps.Mirror = deps.Mirror
	}

	loop := sniper.New(sniper.Config{
		PollInterval:   cfg.Sniper.PollInterval.Duration,
		RetryInterval:  cfg.Sniper.RetryInterval.Duration,
		RedeemInterval: redeemEvery,
		PnLInterval:    cfg.Sniper.PnLInterval.Duration,
		FetchTimeout:   cfg.Sniper.FetchTimeout.Duration,
		MaxAttempts:    cfg.Sniper.MaxAttempts,
		RetryBatch:     cfg.Sniper.RetryBatch,
		TrackExisting:  v.trackExisting,
		Filters: sniper.Filters{
			MinVolume:    cfg.Filters.MinVolume,
			MinLiquidity: cfg.Filters.MinLiquidity,
			MinVolume24h: cfg.Filters.MinVolume24h,
		},
	}, loopDeps, a.logger)

	// The recorder and the hub outlive the loop so the final events drain.
	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	var sinks errgroup.Group
	sinks.Go(func() error { return rec.Run(sinkCtx) })
	if deps.Hub != nil {
		sinks.Go(func() error { return deps.Hub.Run(sinkCtx) })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.pin(gctx)
		return loop.Run(gctx)
	})
	g.Go(func() error { return exec.Run(gctx) })
	for _, run := range v.runners {
		g.Go(func() error { return run(gctx, loop) })
	}
	if deps.Mirror != nil {
		g.Go(func() error { return deps.Mirror.Run(gctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(gctx) })
	}
	if cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Addr:        ":" + strconv.Itoa(cfg.Server.Port),
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
		}, a.handlers(deps, tracker, riskMgr, loop), a.logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err := g.Wait()
	if dropped := rec.Dropped(); dropped > 0 {
		a.logger.Warn("events dropped by recorder", slog.Uint64("dropped", dropped))
	}
	stopSinks()
	_ = sinks.Wait()
	return tracker, err
}

func (a *App) handlers(deps *Dependencies, tracker *pnl.Tracker, riskMgr *risk.Manager, loop *sniper.Sniper) server.Handlers {
	var history handler.TradeHistory
	if deps.Journal != nil {
		history = deps.Journal
	}
	h := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode),
		Portfolio: handler.NewPortfolioHandler(tracker, riskMgr, loop, history, a.logger),
		Hub:       deps.Hub,
	}
	if deps.Metrics != nil {
		h.Metrics = deps.Metrics.Handler()
		h.Instrument = deps.Metrics.Middleware
	}
	return h
}

// pin binds the calling goroutine to the configured core. Failures are
// logged and the loop runs unpinned.
func (a *App) pin(ctx context.Context) {
	if a.cfg.Sniper.PinCPU < 0 {
		return
	}
	pinner, err := affinity.NewPinner()
	if err == nil {
		var cpu int
		cpu, err = pinner.Pin(a.cfg.Sniper.PinCPU)
		if err == nil {
			a.logger.InfoContext(ctx, "decision loop pinned", slog.Int("cpu", cpu))
			return
		}
	}
	a.logger.WarnContext(ctx, "cpu pinning unavailable", slog.String("error", err.Error()))
}

// Close tears down all resources in reverse registration order. It is safe
// to call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
