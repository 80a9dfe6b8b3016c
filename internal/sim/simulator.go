// Package sim is an in-process venue for running the agent without a
// network: markets live in memory, orders fill at the requested price and
// historical ticks are replayed as order-book updates.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// DefaultBalance is the simulator's starting dollar balance.
const DefaultBalance = 10_000.0

var (
	_ domain.MarketInterface  = (*MarketSimulator)(nil)
	_ domain.ResolutionOracle = (*MarketSimulator)(nil)
)

// Tick is one historical YES price observation. NoPrice is optional; when
// zero the NO token trades at 1 - Price.
type Tick struct {
	Timestamp time.Time
	MarketID  string
	Price     float64
	NoPrice   float64
	Volume    float64
}

// Fill is an order the simulator accepted.
type Fill struct {
	OrderID string
	Order   domain.OrderRequest
	At      time.Time
}

// MarketSimulator implements MarketInterface and ResolutionOracle in
// memory. It is safe for concurrent use.
type MarketSimulator struct {
	mu       sync.Mutex
	markets  map[string]domain.MarketSnapshot
	balance  float64
	fills    []Fill
	ticks    []Tick
	cursor   int
	resolved map[string]bool
	redeemed map[string]string
	logger   *slog.Logger
}

// Option configures a MarketSimulator.
type Option func(*MarketSimulator)

// WithBalance overrides the starting balance.
func WithBalance(b float64) Option {
	return func(s *MarketSimulator) { s.balance = b }
}

// New creates an empty simulator.
func New(logger *slog.Logger, opts ...Option) *MarketSimulator {
	s := &MarketSimulator{
		markets:  make(map[string]domain.MarketSnapshot),
		balance:  DefaultBalance,
		resolved: make(map[string]bool),
		redeemed: make(map[string]string),
		logger:   logger.With(slog.String("component", "simulator")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadMarkets replaces the simulated market set.
func (s *MarketSimulator) LoadMarkets(markets []domain.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets = make(map[string]domain.MarketSnapshot, len(markets))
	for _, m := range markets {
		if m.State == "" {
			m.State = domain.MarketStateIndexed
		}
		s.markets[m.ID] = m
	}
	s.logger.Info("simulator loaded markets", slog.Int("count", len(markets)))
}

// LoadTicks replaces the tick tape and rewinds it.
func (s *MarketSimulator) LoadTicks(ticks []Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append([]Tick(nil), ticks...)
	s.cursor = 0
	s.logger.Info("simulator loaded ticks", slog.Int("count", len(ticks)))
}

// Remaining returns the number of ticks not yet replayed.
func (s *MarketSimulator) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks) - s.cursor
}

// NextTick advances the tape by one tick. The tick's market moves to
// YES = price and NO = 1 - price (or the tick's NoPrice), and the returned
// updates carry the new best asks of both tokens. ok is false when the tape
// is exhausted.
func (s *MarketSimulator) NextTick() (tick Tick, updates []domain.OrderBookUpdate, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.ticks) {
		return Tick{}, nil, false
	}
	tick = s.ticks[s.cursor]
	s.cursor++

	m, found := s.markets[tick.MarketID]
	if !found {
		return tick, nil, true
	}
	m.YesPrice = tick.Price
	m.NoPrice = 1 - tick.Price
	if tick.NoPrice > 0 {
		m.NoPrice = tick.NoPrice
	}
	m.Volume += tick.Volume
	m.UpdatedAt = tick.Timestamp
	s.markets[m.ID] = m

	if len(m.AssetIDs) == 2 {
		size := tick.Volume
		if size <= 0 {
			size = 100
		}
		for i, price := range []float64{m.YesPrice, m.NoPrice} {
			updates = append(updates, domain.OrderBookUpdate{
				AssetID:    m.AssetIDs[i],
				Asks:       []domain.PriceLevel{{Price: price, Size: size}},
				Bids:       []domain.PriceLevel{{Price: max(price-0.01, 0.01), Size: size}},
				Timestamp:  tick.Timestamp,
				ReceivedAt: time.Now(),
			})
		}
	}
	return tick, updates, true
}

// GetActiveMarkets returns every unresolved market ordered by id.
func (s *MarketSimulator) GetActiveMarkets(context.Context) ([]domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MarketSnapshot, 0, len(s.markets))
	for id, m := range s.markets {
		if s.resolved[id] {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetMarketDetails returns one market or ErrNotFound.
func (s *MarketSimulator) GetMarketDetails(_ context.Context, marketID string) (domain.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.MarketSnapshot{}, fmt.Errorf("sim: market %s: %w", marketID, domain.ErrNotFound)
	}
	return m, nil
}

// GetBalance returns the remaining dollar balance.
func (s *MarketSimulator) GetBalance(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// PlaceOrder fills the order immediately at its price and debits the
// balance.
func (s *MarketSimulator) PlaceOrder(ctx context.Context, order domain.OrderRequest) (string, error) {
	if order.Side != domain.SideYes && order.Side != domain.SideNo {
		return "", fmt.Errorf("sim: place order: %w: %q", domain.ErrInvalidSide, order.Side)
	}
	if order.Price <= 0 || order.SizeUSD <= 0 {
		return "", fmt.Errorf("sim: place order: %w", domain.ErrInvalidOrder)
	}

	s.mu.Lock()
	if order.SizeUSD > s.balance {
		bal := s.balance
		s.mu.Unlock()
		return "", fmt.Errorf("sim: place order: %w: need %.2f have %.2f", domain.ErrInsufficient, order.SizeUSD, bal)
	}
	s.balance -= order.SizeUSD
	id := "sim-order-" + uuid.NewString()
	s.fills = append(s.fills, Fill{OrderID: id, Order: order, At: time.Now()})
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "sim order filled",
		slog.String("order_id", id),
		slog.String("market", order.MarketID),
		slog.String("side", string(order.Side)),
		slog.Float64("price", order.Price),
		slog.Float64("size_usd", order.SizeUSD),
	)
	return id, nil
}

// Fills returns a copy of every accepted order.
func (s *MarketSimulator) Fills() []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Fill(nil), s.fills...)
}

// Resolve marks a condition as paid out.
func (s *MarketSimulator) Resolve(conditionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved[conditionID] = true
}

// IsResolved reports whether Resolve was called for the condition.
func (s *MarketSimulator) IsResolved(_ context.Context, conditionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved[conditionID], nil
}

// Redeem returns a synthetic transaction id for a resolved condition. A
// redeemed condition returns the same id again.
func (s *MarketSimulator) Redeem(ctx context.Context, conditionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resolved[conditionID] {
		return "", fmt.Errorf("sim: redeem %s: not resolved", conditionID)
	}
	if tx, ok := s.redeemed[conditionID]; ok {
		return tx, nil
	}
	tx := "sim-tx-" + uuid.NewString()
	s.redeemed[conditionID] = tx
	s.logger.InfoContext(ctx, "sim redeem", slog.String("condition_id", conditionID), slog.String("tx", tx))
	return tx, nil
}
