// Package sniper is the decision loop. One goroutine owns the active-market
// table, the asset map and the risk manager; every network call runs in a
// short-lived goroutine whose result comes back on a typed channel.
package sniper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/polysniper/internal/arbitrage"
	"github.com/alanyoungcy/polysniper/internal/chain"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/executor"
	"github.com/alanyoungcy/polysniper/internal/metrics"
	"github.com/alanyoungcy/polysniper/internal/pnl"
	"github.com/alanyoungcy/polysniper/internal/queue"
	"github.com/alanyoungcy/polysniper/internal/risk"
	"github.com/alanyoungcy/polysniper/internal/sizing"
)

// Filters are the minimum market statistics for an indexed market to be
// tracked. Synthetic markets bypass them.
type Filters struct {
	MinVolume    float64
	MinLiquidity float64
	MinVolume24h float64
}

// Config configures the loop timers and retry policy.
type Config struct {
	PollInterval   time.Duration
	RetryInterval  time.Duration
	RedeemInterval time.Duration
	PnLInterval    time.Duration
	FetchTimeout   time.Duration
	MaxAttempts    int // metadata fetch attempts before a market is abandoned
	RetryBatch     int // retries dispatched per flush
	// TrackExisting admits the markets of the first poll instead of only
	// marking them seen. The simulator needs it; live trading does not.
	TrackExisting bool
	Filters       Filters
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.RedeemInterval <= 0 {
		c.RedeemInterval = 300 * time.Second
	}
	if c.PnLInterval <= 0 {
		c.PnLInterval = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.RetryBatch <= 0 {
		c.RetryBatch = 5
	}
}

// Stream is the market-data subscription side of the stream client.
type Stream interface {
	domain.Subscriber
	Reconnected() <-chan struct{}
}

// Executor places the orders of a signal.
type Executor interface {
	Execute(ctx context.Context, order executor.Order) (domain.Execution, error)
}

// Emitter accepts loop events without blocking.
type Emitter interface {
	Emit(ev domain.Event) bool
}

// Mirror publishes market snapshots to other processes without blocking.
type Mirror interface {
	Mirror(m domain.MarketSnapshot)
}

// Deps are the collaborators of a Sniper. Market, Ticks, Detector, Sizer,
// Risk, PnL and Executor are required; the rest may be nil.
type Deps struct {
	Market     domain.MarketInterface
	Oracle     domain.ResolutionOracle
	Stream     Stream
	Ticks      *queue.Channel[domain.OrderBookUpdate]
	Conditions <-chan string

	Detector   *arbitrage.Detector
	Expiration *arbitrage.Expiration
	Sizer      *sizing.Kelly
	Risk       *risk.Manager
	PnL        *pnl.Tracker
	Executor   Executor

	Events  Emitter
	Mirror  Mirror
	Metrics *metrics.Metrics

	// DeriveAssetIDs maps a condition id to [YES, NO] asset ids. Defaults
	// to chain.DeriveAssetIDs.
	DeriveAssetIDs func(conditionID string) ([]string, error)
	Now            func() time.Time
}

type metaResult struct {
	entry  domain.RetryEntry
	market domain.MarketSnapshot
	err    error
}

type pollResult struct {
	markets []domain.MarketSnapshot
	err     error
}

type redeemResult struct {
	marketID string
	resolved bool
	txID     string
	err      error
}

type refreshResult struct {
	markets []domain.MarketSnapshot
}

type execResult struct {
	order executor.Order
	exec  domain.Execution
	err   error
}

// Sniper multiplexes ticks, chain events, metadata retries and timers into
// one decision loop.
type Sniper struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	markets  map[string]domain.MarketSnapshot
	assets   map[string]domain.AssetSide
	seen     map[string]struct{}
	fetching map[string]struct{} // queued or in-flight metadata fetches
	retries  []domain.RetryEntry
	inflight map[string]float64 // market id to reserved dollars
	primed   bool

	polling   bool
	redeeming bool
	refresh   bool

	metaCh    chan metaResult
	pollCh    chan pollResult
	redeemCh  chan []redeemResult
	refreshCh chan refreshResult
	execCh    chan execResult

	activeCount atomic.Int64
	wg          sync.WaitGroup
	logger      *slog.Logger
}

// New creates a Sniper.
func New(cfg Config, deps Deps, logger *slog.Logger) *Sniper {
	cfg.setDefaults()
	if deps.DeriveAssetIDs == nil {
		deps.DeriveAssetIDs = chain.DeriveAssetIDs
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Sniper{
		cfg:       cfg,
		deps:      deps,
		now:       now,
		markets:   make(map[string]domain.MarketSnapshot),
		assets:    make(map[string]domain.AssetSide),
		seen:      make(map[string]struct{}),
		fetching:  make(map[string]struct{}),
		inflight:  make(map[string]float64),
		metaCh:    make(chan metaResult, 64),
		pollCh:    make(chan pollResult, 1),
		redeemCh:  make(chan []redeemResult, 1),
		refreshCh: make(chan refreshResult, 1),
		execCh:    make(chan execResult, 16),
		logger:    logger.With(slog.String("component", "sniper")),
	}
}

// ActiveMarkets is the size of the active-market table. Safe to call from
// any goroutine.
func (s *Sniper) ActiveMarkets() int {
	return int(s.activeCount.Load())
}

// Run drives the loop until ctx is cancelled. Ticks are drained before any
// other input is considered; the remaining sources share one select.
func (s *Sniper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sniper starting",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Int("max_attempts", s.cfg.MaxAttempts),
		slog.Int("retry_batch", s.cfg.RetryBatch),
	)

	retryTicker := time.NewTicker(s.cfg.RetryInterval)
	defer retryTicker.Stop()
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()
	redeemTicker := time.NewTicker(s.cfg.RedeemInterval)
	defer redeemTicker.Stop()
	pnlTicker := time.NewTicker(s.cfg.PnLInterval)
	defer pnlTicker.Stop()

	var reconnected <-chan struct{}
	if s.deps.Stream != nil {
		reconnected = s.deps.Stream.Reconnected()
	}

	s.poll(ctx)
	defer s.wg.Wait()

	for {
		s.drainTicks(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("sniper stopping", slog.Int("active_markets", len(s.markets)))
			return ctx.Err()
		case <-s.deps.Ticks.Ready():
		case cid, ok := <-s.deps.Conditions:
			if !ok {
				s.deps.Conditions = nil
				continue
			}
			s.handleCondition(ctx, cid)
		case res := <-s.metaCh:
			s.handleMetadata(ctx, res)
		case res := <-s.execCh:
			s.handleExecution(ctx, res)
		case <-retryTicker.C:
			s.flushRetries(ctx)
		case <-pollTicker.C:
			s.poll(ctx)
		case res := <-s.pollCh:
			s.handlePoll(ctx, res)
		case <-redeemTicker.C:
			s.checkRedemptions(ctx)
		case res := <-s.redeemCh:
			s.handleRedemptions(ctx, res)
		case <-pnlTicker.C:
			s.refreshPnL(ctx)
		case res := <-s.refreshCh:
			s.handleRefresh(ctx, res)
		case <-reconnected:
			s.resubscribe(ctx)
		}
	}
}

// spawn runs fn in a tracked goroutine.
func (s *Sniper) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// deliver hands a result back to the loop unless the loop is gone.
func deliver[T any](ctx context.Context, ch chan<- T, v T) {
	select {
	case ch <- v:
	case <-ctx.Done():
	}
}

func (s *Sniper) emit(ev domain.Event) {
	if s.deps.Events == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	s.deps.Events.Emit(ev)
}

func (s *Sniper) emitError(marketID, msg string, err error) {
	s.emit(domain.Event{Kind: domain.EventError, MarketID: marketID, Message: msg + ": " + err.Error()})
}
