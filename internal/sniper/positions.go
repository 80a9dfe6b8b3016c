package sniper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/polysniper/internal/arbitrage"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/executor"
	"github.com/alanyoungcy/polysniper/internal/sizing"
)

// evaluate runs the detectors on m and dispatches an execution for a
// signal that survives sizing and the risk gate.
func (s *Sniper) evaluate(ctx context.Context, m domain.MarketSnapshot) {
	if _, busy := s.inflight[m.ID]; busy {
		return
	}
	if _, held := s.deps.Risk.Position(m.ID); held {
		return
	}

	notional := s.deps.Risk.MaxPositionUSD()
	sig := s.deps.Detector.Auto(m, notional)
	if sig.IsNone() && s.deps.Expiration != nil {
		sig = s.deps.Expiration.Evaluate(m, s.now())
	}
	if sig.IsNone() {
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Signals.WithLabelValues(string(sig.Kind)).Inc()
	}

	sig, confidence := s.size(sig, m, notional)
	if err := s.gate(m.ID, sig.SizeUSD, confidence); err != nil {
		s.reject(ctx, m, sig, err)
		return
	}

	s.logger.InfoContext(ctx, "signal accepted",
		slog.String("market", m.ID),
		slog.String("question", m.Question),
		slog.String("kind", string(sig.Kind)),
		slog.Int("edge_bps", sig.EdgeBps),
		slog.Float64("size_usd", sig.SizeUSD),
	)
	s.emit(domain.Event{Kind: domain.EventSignal, MarketID: m.ID, Signal: &sig})
	s.dispatch(ctx, m, sig)
}

// size fills in the dollar size of a signal and returns the confidence the
// risk gate checks. Pair trades are sized by Kelly on the cash balance;
// snipes keep their configured size and carry their price as confidence.
func (s *Sniper) size(sig domain.TradeSignal, m domain.MarketSnapshot, notional float64) (domain.TradeSignal, float64) {
	limit := s.deps.Risk.MaxPositionUSD()
	switch sig.Kind {
	case domain.SignalBuyBoth:
		var slippage float64
		if s.deps.Detector.Config().DepthAware {
			slippage = arbitrage.Slippage(m, notional)
		}
		p := sizing.WinProbability(false, slippage)
		vol := s.deps.Sizer.EstimateVolatility(m.ID)
		size := s.deps.Sizer.Size(sig.EdgeBps, p, s.deps.PnL.Cash(), vol)
		return sig.WithSize(math.Min(size, limit)), 1.0
	case domain.SignalSnipe:
		size := sig.SizeUSD
		if size <= 0 {
			size = limit
		}
		return sig.WithSize(math.Min(size, limit)), sig.Price
	}
	return sig, 0
}

// gate applies the risk manager's entry rules plus the dollars reserved by
// executions still in flight.
func (s *Sniper) gate(marketID string, sizeUSD, confidence float64) error {
	if sizeUSD <= 0 {
		return fmt.Errorf("%w: size %.2f", domain.ErrInvalidOrder, sizeUSD)
	}
	if err := s.deps.Risk.ValidateEntry(marketID, sizeUSD, confidence); err != nil {
		return err
	}
	var reserved float64
	for _, v := range s.inflight {
		reserved += v
	}
	exposure := s.deps.Risk.Exposure() + reserved
	if limit := s.deps.Risk.MaxExposureUSD(); reserved > 0 && exposure+sizeUSD > limit {
		return fmt.Errorf("%w: $%.2f in flight", domain.ErrExposureLimit, reserved)
	}
	return nil
}

func (s *Sniper) reject(ctx context.Context, m domain.MarketSnapshot, sig domain.TradeSignal, err error) {
	reason := rejectReason(err)
	if s.deps.Metrics != nil {
		s.deps.Metrics.EntryRejections.WithLabelValues(reason).Inc()
	}
	s.logger.DebugContext(ctx, "signal rejected",
		slog.String("market", m.ID),
		slog.String("kind", string(sig.Kind)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicatePosition):
		return "duplicate"
	case errors.Is(err, domain.ErrPositionTooLarge):
		return "size"
	case errors.Is(err, domain.ErrExposureLimit):
		return "exposure"
	case errors.Is(err, domain.ErrLowConfidence):
		return "confidence"
	case errors.Is(err, domain.ErrInvalidOrder):
		return "sizing"
	}
	return "other"
}

// dispatch executes the signal in the background and reserves its size
// until the result comes back.
func (s *Sniper) dispatch(ctx context.Context, m domain.MarketSnapshot, sig domain.TradeSignal) {
	order := executor.Order{
		TradeID: fmt.Sprintf("%s_%s_%d", sig.Kind, m.ID, s.now().UnixMilli()),
		Signal:  sig,
		Market:  m,
	}
	s.inflight[m.ID] = sig.SizeUSD
	s.spawn(func() {
		exec, err := s.deps.Executor.Execute(ctx, order)
		deliver(ctx, s.execCh, execResult{order: order, exec: exec, err: err})
	})
}

// handleExecution turns filled legs into a position. A pair with a single
// filled leg becomes a one-sided position on that leg.
func (s *Sniper) handleExecution(ctx context.Context, res execResult) {
	marketID := res.order.Signal.MarketID
	delete(s.inflight, marketID)

	if res.err != nil {
		s.logger.WarnContext(ctx, "execution rejected",
			slog.String("trade_id", res.order.TradeID),
			slog.String("error", res.err.Error()),
		)
		s.emitError(marketID, "execution rejected", res.err)
		return
	}
	pos, ok := positionFrom(res.order, res.exec)
	if !ok {
		err := res.exec.Err()
		if err == nil {
			err = domain.ErrSubmission
		}
		s.logger.WarnContext(ctx, "execution failed",
			slog.String("trade_id", res.order.TradeID),
			slog.String("error", err.Error()),
		)
		s.emitError(marketID, "execution failed", err)
		return
	}
	pos.EntryTime = s.now()

	if err := s.deps.Risk.AddPosition(pos); err != nil {
		s.logger.ErrorContext(ctx, "risk manager refused filled position",
			slog.String("trade_id", pos.TradeID),
			slog.String("error", err.Error()),
		)
		s.emitError(marketID, "position not recorded", err)
		return
	}
	if err := s.deps.PnL.AddPosition(pos); err != nil {
		s.logger.ErrorContext(ctx, "pnl tracker refused position",
			slog.String("trade_id", pos.TradeID),
			slog.String("error", err.Error()),
		)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Entries.WithLabelValues(string(res.order.Signal.Kind)).Inc()
	}
	s.updateRiskGauges()

	exec := res.exec
	s.emit(domain.Event{
		Kind:      domain.EventEntry,
		MarketID:  marketID,
		Position:  &pos,
		Execution: &exec,
	})
}

func positionFrom(order executor.Order, exec domain.Execution) (domain.Position, bool) {
	var filled []domain.LegResult
	for _, l := range exec.Legs {
		if l.Filled() {
			filled = append(filled, l)
		}
	}
	pos := domain.Position{
		TradeID:  order.TradeID,
		MarketID: order.Signal.MarketID,
		Question: order.Market.Question,
	}
	switch {
	case len(filled) == 0:
		return domain.Position{}, false
	case exec.Complete() && order.Signal.Kind == domain.SignalBuyBoth:
		pos.Side = domain.SideBoth
		pos.EntryPrice = order.Signal.EntryPrice()
		pos.SizeUSD = exec.FilledUSD()
	default:
		leg := filled[0]
		pos.Side = leg.Side
		pos.EntryPrice = leg.Price
		pos.SizeUSD = leg.SizeUSD
	}
	pos.CurrentPrice = pos.EntryPrice
	return pos, true
}

// managePositions applies stop-loss and take-profit to one-sided
// positions. Pairs pay out at resolution and are left to redemption.
func (s *Sniper) managePositions(ctx context.Context) {
	now := s.now()
	for _, pos := range s.deps.Risk.Positions() {
		if pos.Side == domain.SideBoth {
			continue
		}
		m, ok := s.markets[pos.MarketID]
		if !ok {
			continue
		}
		current := m.PriceFor(pos.Side)
		if current <= 0 {
			continue
		}
		s.deps.PnL.UpdateMarketPrice(m.ID, m.YesPrice, m.NoPrice)
		switch {
		case s.deps.Risk.CheckStopLoss(pos, current, now):
			s.closePosition(ctx, pos, current, domain.ExitStopLoss)
		case s.deps.Risk.CheckTakeProfit(current):
			s.closePosition(ctx, pos, current, domain.ExitTakeProfit)
		}
	}
}

// closePosition records the close in the risk manager and the ledger.
// exitPrice 0 closes at the ledger's last mark.
func (s *Sniper) closePosition(ctx context.Context, pos domain.Position, exitPrice float64, reason domain.ExitReason) {
	s.deps.Risk.RemovePosition(pos.MarketID, s.now())
	trade, ok := s.deps.PnL.CloseAt(pos.TradeID, exitPrice, reason)
	if !ok {
		s.logger.WarnContext(ctx, "position missing from ledger", slog.String("trade_id", pos.TradeID))
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Exits.WithLabelValues(string(reason)).Inc()
	}
	s.updateRiskGauges()
	s.logger.InfoContext(ctx, "position closed",
		slog.String("market", pos.MarketID),
		slog.String("reason", string(reason)),
		slog.Float64("pnl", trade.PnL),
	)
	kind := domain.EventExit
	if reason == domain.ExitRedeemed {
		kind = domain.EventRedeem
	}
	s.emit(domain.Event{Kind: kind, MarketID: pos.MarketID, Trade: &trade})
}

// checkRedemptions asks the oracle about every open position's market.
func (s *Sniper) checkRedemptions(ctx context.Context) {
	if s.deps.Oracle == nil || s.redeeming {
		return
	}
	positions := s.deps.Risk.Positions()
	if len(positions) == 0 {
		return
	}
	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.MarketID)
	}
	s.redeeming = true
	oracle := s.deps.Oracle
	s.spawn(func() {
		results := make([]redeemResult, 0, len(ids))
		for _, id := range ids {
			r := redeemResult{marketID: id}
			rctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			r.resolved, r.err = oracle.IsResolved(rctx, id)
			if r.err == nil && r.resolved {
				r.txID, r.err = oracle.Redeem(rctx, id)
			}
			cancel()
			results = append(results, r)
		}
		deliver(ctx, s.redeemCh, results)
	})
}

func (s *Sniper) handleRedemptions(ctx context.Context, results []redeemResult) {
	s.redeeming = false
	for _, r := range results {
		if r.err != nil {
			s.logger.WarnContext(ctx, "redemption failed",
				slog.String("market", r.marketID),
				slog.String("error", r.err.Error()),
			)
			s.emitError(r.marketID, "redemption failed", r.err)
			continue
		}
		if !r.resolved {
			continue
		}
		pos, ok := s.deps.Risk.Position(r.marketID)
		if !ok {
			continue
		}
		s.logger.InfoContext(ctx, "market redeemed",
			slog.String("market", r.marketID),
			slog.String("tx", r.txID),
		)
		// A pair always pays exactly 1; a single side closes at its mark.
		var exit float64
		if pos.Side == domain.SideBoth {
			exit = 1.0
		}
		s.closePosition(ctx, pos, exit, domain.ExitRedeemed)
	}
}

// refreshPnL fetches prices for markets with open positions, then the
// result handler records a snapshot.
func (s *Sniper) refreshPnL(ctx context.Context) {
	if s.refresh {
		return
	}
	var ids []string
	for _, p := range s.deps.Risk.Positions() {
		if !contains(ids, p.MarketID) {
			ids = append(ids, p.MarketID)
		}
	}
	if len(ids) == 0 {
		s.handleRefresh(ctx, refreshResult{})
		return
	}
	s.refresh = true
	market := s.deps.Market
	s.spawn(func() {
		var out []domain.MarketSnapshot
		for _, id := range ids {
			fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			m, err := market.GetMarketDetails(fctx, id)
			cancel()
			if err != nil {
				s.logger.Warn("pnl price fetch failed",
					slog.String("market", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			out = append(out, m)
		}
		deliver(ctx, s.refreshCh, refreshResult{markets: out})
	})
}

func (s *Sniper) handleRefresh(ctx context.Context, res refreshResult) {
	s.refresh = false
	for _, fetched := range res.markets {
		yes, no := fetched.YesPrice, fetched.NoPrice
		if cur, ok := s.markets[fetched.ID]; ok && s.now().Sub(cur.UpdatedAt) < s.cfg.PnLInterval {
			yes, no = cur.YesPrice, cur.NoPrice
		}
		s.deps.PnL.UpdateMarketPrice(fetched.ID, yes, no)
	}
	snap := s.deps.PnL.TakeSnapshot()
	if s.deps.Metrics != nil {
		s.deps.Metrics.PortfolioValue.Set(snap.TotalValue)
	}
	s.logger.DebugContext(ctx, "pnl snapshot",
		slog.Float64("total_value", snap.TotalValue),
		slog.Float64("unrealized", snap.UnrealizedPnL),
		slog.Int("open_positions", snap.OpenPositions),
	)
	s.emit(domain.Event{Kind: domain.EventSnapshot, Snapshot: &snap})
}

func (s *Sniper) updateRiskGauges() {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.OpenPositions.Set(float64(len(s.deps.Risk.Positions())))
	s.deps.Metrics.Exposure.Set(s.deps.Risk.Exposure())
}
