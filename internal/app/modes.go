package app

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysniper/internal/chain"
	"github.com/alanyoungcy/polysniper/internal/crypto"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
	"github.com/alanyoungcy/polysniper/internal/platform/polymarket"
	"github.com/alanyoungcy/polysniper/internal/queue"
	"github.com/alanyoungcy/polysniper/internal/sim"
	"github.com/alanyoungcy/polysniper/internal/sniper"
)

// errSimComplete ends a simulation once the tape is replayed and settled.
var errSimComplete = errors.New("simulation complete")

// runner is a goroutine started next to the decision loop.
type runner func(ctx context.Context, s *sniper.Sniper) error

// venue is what a mode contributes to the shared loop wiring.
type venue struct {
	market     domain.MarketInterface
	oracle     domain.ResolutionOracle
	stream     sniper.Stream
	conditions <-chan string
	deriveIDs  func(conditionID string) ([]string, error) // nil keeps the loop default

	trackExisting bool
	redeemEvery   time.Duration // overrides sniper.redeem_interval when > 0
	lockKey       string        // single-instance lock, empty for none
	runners       []runner
}

// polymarketVenue connects to Polymarket and Polygon. In paper mode orders
// never leave the process and redemptions are recorded without a
// transaction.
func (a *App) polymarketVenue(ctx context.Context, ticks *queue.Channel[domain.OrderBookUpdate], m *metrics.Metrics, paper bool) (*venue, func(), error) {
	cfg := a.cfg
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*venue, func(), error) {
		cleanup()
		return nil, nil, err
	}

	v := &venue{trackExisting: cfg.Sniper.ScanExisting}
	if cfg.Polymarket.NegRisk {
		v.deriveIDs = chain.DeriveNegRiskAssetIDs
	}

	var signer *crypto.Signer
	keys := crypto.KeySource{
		Hex:      cfg.Wallet.PrivateKey,
		File:     cfg.Wallet.EncryptedKeyPath,
		Password: cfg.Wallet.KeyPassword,
	}
	if keys.Configured() {
		hexKey, err := keys.Resolve()
		if err != nil {
			return fail(fmt.Errorf("app: wallet key: %w", err))
		}
		exchange := crypto.CTFExchange
		if cfg.Polymarket.NegRisk {
			exchange = crypto.NegRiskExchange
		}
		signer, err = crypto.NewSigner(hexKey, chain.PolygonChainID, exchange)
		if err != nil {
			return fail(fmt.Errorf("app: signer: %w", err))
		}
		a.logger.InfoContext(ctx, "wallet loaded", slog.String("address", signer.Address().Hex()))
	}

	gamma := polymarket.NewGammaClient(polymarket.GammaConfig{
		BaseURL:   cfg.Polymarket.GammaHost,
		Timeout:   cfg.Sniper.FetchTimeout.Duration,
		RatePerS:  cfg.Polymarket.GammaRPS,
		RateBurst: cfg.Polymarket.GammaBurst,
	}, a.logger)

	var clob *polymarket.ClobClient
	if signer != nil {
		clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, nil, a.logger)
		if !paper {
			if err := clob.DeriveAPIKey(ctx); err != nil {
				return fail(fmt.Errorf("app: clob credentials: %w", err))
			}
			v.lockKey = "wallet:" + signer.Address().Hex()
		}
	}

	market, err := polymarket.NewMarket(gamma, clob, polymarket.MarketConfig{
		Paper:        paper,
		PaperBalance: cfg.Polymarket.PaperBalance,
		MarketLimit:  cfg.Polymarket.MarketLimit,
	}, a.logger)
	if err != nil {
		return fail(fmt.Errorf("app: market: %w", err))
	}
	v.market = market

	stream := polymarket.NewStreamClient(polymarket.StreamConfig{
		URL:              cfg.Stream.URL,
		FlushInterval:    cfg.Stream.FlushInterval.Duration,
		ChunkSize:        cfg.Stream.ChunkSize,
		ReconnectBackoff: cfg.Stream.ReconnectBackoff.Duration,
	}, ticks, streamHooks(m), a.logger)
	v.stream = stream
	v.runners = append(v.runners, func(ctx context.Context, _ *sniper.Sniper) error {
		return stream.Run(ctx)
	})

	if cfg.Chain.WsRPC != "" {
		listener := chain.NewConditionListener(chain.ListenerConfig{
			RPCURL:  cfg.Chain.WsRPC,
			Backoff: cfg.Chain.ReconnectBackoff.Duration,
		}, nil, a.logger)
		v.conditions = listener.Conditions()
		v.runners = append(v.runners, func(ctx context.Context, _ *sniper.Sniper) error {
			return listener.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "chain.ws_rpc not set, new markets are found by polling only")
	}

	if cfg.Chain.HTTPRPC != "" {
		key := signerKey(signer)
		if paper {
			key = nil
		}
		oracle, closeOracle, err := chain.DialOracle(ctx, cfg.Chain.HTTPRPC, key, a.logger)
		if err != nil {
			return fail(fmt.Errorf("app: oracle: %w", err))
		}
		closers = append(closers, closeOracle)
		v.oracle = oracle
		if paper {
			v.oracle = paperOracle{oracle}
		}
	} else {
		a.logger.WarnContext(ctx, "chain.http_rpc not set, redemptions disabled")
	}

	return v, cleanup, nil
}

// simVenue replays a tick tape against the in-process simulator. When the
// tape ends every market resolves, and the run stops after the loop has had
// time to redeem.
func (a *App) simVenue(ctx context.Context, ticks *queue.Channel[domain.OrderBookUpdate]) (*venue, func(), error) {
	cfg := a.cfg.Sim
	now := time.Now()

	markets := sim.DemoMarkets(cfg.Markets, now)
	var tape []sim.Tick
	if cfg.TicksFile != "" {
		f, err := os.Open(cfg.TicksFile)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open tick tape: %w", err)
		}
		tape, err = sim.ReadTicksCSV(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, err
		}
	} else {
		tape = sim.GenerateTicks(markets, cfg.Steps, cfg.DislocateEvery, cfg.Seed, now)
	}

	simulator := sim.New(a.logger, sim.WithBalance(cfg.Balance))
	simulator.LoadMarkets(markets)
	simulator.LoadTicks(tape)
	a.logger.InfoContext(ctx, "simulation loaded",
		slog.Int("markets", len(markets)),
		slog.Int("ticks", len(tape)),
	)

	redeemEvery := max(10*cfg.TickInterval.Duration, 500*time.Millisecond)
	drive := func(ctx context.Context, s *sniper.Sniper) error {
		if err := waitForMarkets(ctx, s, len(markets), 5*time.Second); err != nil {
			return err
		}
		if err := simulator.Replay(ctx, ticks, cfg.TickInterval.Duration); err != nil {
			return err
		}
		for _, m := range markets {
			simulator.Resolve(m.ID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(3 * redeemEvery):
		}
		a.logger.InfoContext(ctx, "simulation settled",
			slog.Int("fills", len(simulator.Fills())),
			slog.Uint64("ticks_dropped", ticks.Dropped()),
		)
		return errSimComplete
	}

	return &venue{
		market:        simulator,
		oracle:        simulator,
		trackExisting: true,
		redeemEvery:   redeemEvery,
		runners:       []runner{drive},
	}, func() {}, nil
}

// waitForMarkets blocks until the loop tracks want markets or the timeout
// passes, so the first replayed ticks are not discarded as unknown.
func waitForMarkets(ctx context.Context, s *sniper.Sniper, want int, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for s.ActiveMarkets() < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-tick.C:
		}
	}
	return nil
}

func streamHooks(m *metrics.Metrics) polymarket.StreamHooks {
	if m == nil {
		return polymarket.StreamHooks{}
	}
	return polymarket.StreamHooks{
		OnFrame: func(k polymarket.FrameKind) { m.Frames.WithLabelValues(k.String()).Inc() },
		OnConnect: func(reconnect bool) {
			if reconnect {
				m.Reconnects.Inc()
			}
		},
		OnDrop:      func() { m.TicksDropped.Inc() },
		OnSubscribe: func(ids int) { m.Subscriptions.Add(float64(ids)) },
	}
}

func signerKey(s *crypto.Signer) *ecdsa.PrivateKey {
	if s == nil {
		return nil
	}
	return s.PrivateKey()
}

// paperOracle reads resolutions from chain but never sends a transaction.
type paperOracle struct {
	domain.ResolutionOracle
}

func (paperOracle) Redeem(_ context.Context, _ string) (string, error) {
	return "paper-tx-" + uuid.NewString(), nil
}
