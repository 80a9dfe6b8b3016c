package sniper

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// drainTicks consumes every queued update.
func (s *Sniper) drainTicks(ctx context.Context) {
	for {
		u, ok := s.deps.Ticks.TryRecv()
		if !ok {
			return
		}
		s.handleTick(ctx, u)
	}
}

// handleTick refreshes the best ask of the update's side and re-evaluates
// the market. A snapshot without asks clears that side's price, which
// keeps the market out of every signal until an ask returns.
func (s *Sniper) handleTick(ctx context.Context, u domain.OrderBookUpdate) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.TicksProcessed.Inc()
	}
	as, ok := s.assets[u.AssetID]
	if !ok {
		return
	}
	m, ok := s.markets[as.MarketID]
	if !ok {
		return
	}
	ask, ok := u.BestAsk()
	if !ok && !u.Snapshot {
		return
	}

	// A best-price change invalidates the stored ladder of that side.
	var ladder []domain.PriceLevel
	if ok && u.HasDepth() {
		ladder = u.Asks
	}
	switch as.Side {
	case domain.SideYes:
		m.YesPrice, m.YesAsks = ask, ladder
	case domain.SideNo:
		m.NoPrice, m.NoAsks = ask, ladder
	}
	if len(u.Bids) > 0 || len(u.Asks) > 0 {
		m.Imbalance = u.Imbalance()
	}
	m.UpdatedAt = s.now()
	s.markets[m.ID] = m
	s.mirror(m)

	if _, held := s.deps.Risk.Position(m.ID); held {
		s.deps.PnL.UpdateMarketPrice(m.ID, m.YesPrice, m.NoPrice)
	}

	s.logger.Debug("tick",
		slog.String("market", m.ID),
		slog.String("side", string(as.Side)),
		slog.Float64("ask", ask),
	)
	s.evaluate(ctx, m)

	if s.deps.Metrics != nil && !u.ReceivedAt.IsZero() {
		s.deps.Metrics.DecisionLatency.Observe(time.Since(u.ReceivedAt).Seconds())
	}
}

// handleCondition bootstraps a synthetic market for a freshly prepared
// condition and starts fetching its metadata.
func (s *Sniper) handleCondition(ctx context.Context, conditionID string) {
	if _, ok := s.seen[conditionID]; ok {
		return
	}
	if _, ok := s.markets[conditionID]; ok {
		return
	}
	assets, err := s.deps.DeriveAssetIDs(conditionID)
	if err != nil {
		s.logger.WarnContext(ctx, "derive asset ids failed",
			slog.String("condition", conditionID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.seen[conditionID] = struct{}{}

	m := domain.MarketSnapshot{
		ID:        conditionID,
		AssetIDs:  assets,
		State:     domain.MarketStateSynthetic,
		UpdatedAt: s.now(),
	}
	s.track(m)
	s.logger.InfoContext(ctx, "new market from chain",
		slog.String("condition", conditionID),
		slog.Any("assets", assets),
	)

	s.fetching[conditionID] = struct{}{}
	s.fetch(ctx, domain.RetryEntry{MarketID: conditionID, Attempt: 1, QueuedAt: s.now()})
}

// fetch asks the venue for market metadata in the background.
func (s *Sniper) fetch(ctx context.Context, entry domain.RetryEntry) {
	s.spawn(func() {
		fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
		m, err := s.deps.Market.GetMarketDetails(fctx, entry.MarketID)
		deliver(ctx, s.metaCh, metaResult{entry: entry, market: m, err: err})
	})
}

// handleMetadata promotes a market on success and requeues it on failure
// until MaxAttempts is reached.
func (s *Sniper) handleMetadata(ctx context.Context, res metaResult) {
	id := res.entry.MarketID
	if res.err == nil {
		s.countRetry("success")
		delete(s.fetching, id)
		if res.entry.Attempt > 1 {
			s.logger.InfoContext(ctx, "metadata fetched after retries",
				slog.String("market", id),
				slog.Int("attempts", res.entry.Attempt),
			)
		}
		s.promote(ctx, res.market)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if res.entry.Attempt >= s.cfg.MaxAttempts {
		s.countRetry("abandoned")
		delete(s.fetching, id)
		if m, ok := s.markets[id]; ok && m.Synthetic() {
			s.untrack(id)
		}
		_, kept := s.markets[id]
		s.logger.WarnContext(ctx, "metadata fetch abandoned",
			slog.String("market", id),
			slog.Int("attempts", res.entry.Attempt),
			slog.Bool("position_open", kept),
			slog.String("error", res.err.Error()),
		)
		return
	}
	s.countRetry("retry")
	if !errors.Is(res.err, domain.ErrNotFound) {
		s.logger.DebugContext(ctx, "metadata fetch failed",
			slog.String("market", id),
			slog.Int("attempt", res.entry.Attempt),
			slog.String("error", res.err.Error()),
		)
	}
	s.retries = append(s.retries, domain.RetryEntry{
		MarketID: id,
		Attempt:  res.entry.Attempt + 1,
		QueuedAt: s.now(),
	})
}

// flushRetries dispatches at most RetryBatch queued fetches.
func (s *Sniper) flushRetries(ctx context.Context) {
	n := min(len(s.retries), s.cfg.RetryBatch)
	if n == 0 {
		return
	}
	batch := make([]domain.RetryEntry, n)
	copy(batch, s.retries[:n])
	s.retries = append(s.retries[:0], s.retries[n:]...)

	for _, e := range batch {
		if m, ok := s.markets[e.MarketID]; ok && !m.Synthetic() {
			delete(s.fetching, e.MarketID)
			continue
		}
		s.fetch(ctx, e)
	}
}

// promote replaces a market with its indexed description. Live stream
// prices are kept over the index's, and asset ids are remapped when the
// index disagrees with the derived ones.
func (s *Sniper) promote(ctx context.Context, fresh domain.MarketSnapshot) {
	fresh.State = domain.MarketStateIndexed
	prev, had := s.markets[fresh.ID]
	if had {
		if prev.YesPrice > 0 {
			fresh.YesPrice, fresh.YesAsks = prev.YesPrice, prev.YesAsks
		}
		if prev.NoPrice > 0 {
			fresh.NoPrice, fresh.NoAsks = prev.NoPrice, prev.NoAsks
		}
		if len(fresh.AssetIDs) < 2 {
			fresh.AssetIDs = prev.AssetIDs
		}
	}
	fresh.UpdatedAt = s.now()
	s.seen[fresh.ID] = struct{}{}
	s.admit(ctx, fresh)
}

// admit tracks and evaluates a market that passes the filters. A market
// that fails them is dropped unless a position is open in it.
func (s *Sniper) admit(ctx context.Context, m domain.MarketSnapshot) {
	if reason, ok := s.passesFilters(m); !ok {
		s.logger.DebugContext(ctx, "market filtered",
			slog.String("market", m.ID),
			slog.String("reason", reason),
		)
		s.untrack(m.ID)
		return
	}
	s.track(m)
	s.evaluate(ctx, m)
}

func (s *Sniper) passesFilters(m domain.MarketSnapshot) (string, bool) {
	if m.Synthetic() {
		return "", true
	}
	f := s.cfg.Filters
	switch {
	case m.Volume < f.MinVolume:
		return "volume", false
	case m.Liquidity < f.MinLiquidity:
		return "liquidity", false
	case m.Volume24h < f.MinVolume24h:
		return "volume_24h", false
	}
	return "", true
}

// track stores m, maps its assets and subscribes any asset not mapped yet.
func (s *Sniper) track(m domain.MarketSnapshot) {
	if prev, ok := s.markets[m.ID]; ok {
		for _, id := range prev.AssetIDs {
			if !contains(m.AssetIDs, id) {
				delete(s.assets, id)
			}
		}
	}
	s.markets[m.ID] = m

	var subscribe []string
	for i, id := range m.AssetIDs {
		if i > 1 || id == "" {
			break
		}
		side := domain.SideYes
		if i == 1 {
			side = domain.SideNo
		}
		if cur, ok := s.assets[id]; !ok || cur.MarketID != m.ID {
			subscribe = append(subscribe, id)
		}
		s.assets[id] = domain.AssetSide{MarketID: m.ID, Side: side}
	}
	if len(subscribe) > 0 && s.deps.Stream != nil {
		s.deps.Stream.Subscribe(subscribe)
	}
	s.mirror(m)
	s.setActive()
}

// untrack forgets a market and its asset ids unless a position is open in
// it. Ticks for the dropped ids are ignored from then on, and the ids are
// left out of the resubscription after the next reconnect.
func (s *Sniper) untrack(marketID string) {
	m, ok := s.markets[marketID]
	if !ok {
		return
	}
	if _, held := s.deps.Risk.Position(marketID); held {
		return
	}
	for _, id := range m.AssetIDs {
		if cur, ok := s.assets[id]; ok && cur.MarketID == marketID {
			delete(s.assets, id)
		}
	}
	delete(s.markets, marketID)
	s.setActive()
}

func (s *Sniper) setActive() {
	s.activeCount.Store(int64(len(s.markets)))
	if s.deps.Metrics != nil {
		s.deps.Metrics.ActiveMarkets.Set(float64(len(s.markets)))
	}
}

// poll fetches the active-market list unless a poll is already running.
func (s *Sniper) poll(ctx context.Context) {
	if s.polling {
		return
	}
	s.polling = true
	s.spawn(func() {
		markets, err := s.deps.Market.GetActiveMarkets(ctx)
		deliver(ctx, s.pollCh, pollResult{markets: markets, err: err})
	})
}

// handlePoll processes unseen markets, refreshes tracked ones and manages
// open positions. The first successful poll only marks markets seen.
func (s *Sniper) handlePoll(ctx context.Context, res pollResult) {
	s.polling = false
	if res.err != nil {
		if ctx.Err() == nil {
			s.logger.WarnContext(ctx, "poll failed", slog.String("error", res.err.Error()))
		}
		return
	}

	if !s.primed {
		s.primed = true
		for _, m := range res.markets {
			s.seen[m.ID] = struct{}{}
		}
		if s.cfg.TrackExisting {
			for _, m := range res.markets {
				s.admit(ctx, m)
			}
		}
		s.logger.InfoContext(ctx, "initial poll",
			slog.Int("markets", len(res.markets)),
			slog.Bool("tracked", s.cfg.TrackExisting),
		)
	} else {
		var fresh int
		for _, m := range res.markets {
			if _, ok := s.seen[m.ID]; ok {
				continue
			}
			s.seen[m.ID] = struct{}{}
			fresh++
			s.logger.InfoContext(ctx, "new market from poll",
				slog.String("market", m.ID),
				slog.String("question", m.Question),
			)
			s.admit(ctx, m)
		}
		if fresh > 0 {
			s.logger.InfoContext(ctx, "poll found markets", slog.Int("new", fresh))
		}
	}

	for _, m := range res.markets {
		s.refreshTracked(ctx, m)
	}
	s.managePositions(ctx)
}

// refreshTracked updates the statistics of a tracked market from a polled
// copy. Prices are only taken when the stream has been quiet for a poll
// interval, since stream asks are fresher than index prices.
func (s *Sniper) refreshTracked(ctx context.Context, polled domain.MarketSnapshot) {
	cur, ok := s.markets[polled.ID]
	if !ok {
		return
	}
	if cur.Synthetic() {
		delete(s.fetching, polled.ID)
		s.promote(ctx, polled)
		return
	}
	cur.Question = polled.Question
	cur.EndTime = polled.EndTime
	cur.Volume = polled.Volume
	cur.Liquidity = polled.Liquidity
	cur.Volume24h = polled.Volume24h
	if s.now().Sub(cur.UpdatedAt) >= s.cfg.PollInterval {
		if polled.YesPrice > 0 {
			cur.YesPrice, cur.YesAsks = polled.YesPrice, nil
		}
		if polled.NoPrice > 0 {
			cur.NoPrice, cur.NoAsks = polled.NoPrice, nil
		}
		cur.UpdatedAt = s.now()
	}
	s.markets[cur.ID] = cur
	s.mirror(cur)
}

// resubscribe replays every mapped asset id after a stream reconnect.
func (s *Sniper) resubscribe(ctx context.Context) {
	if s.deps.Stream == nil || len(s.assets) == 0 {
		return
	}
	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s.deps.Stream.Subscribe(ids)
	s.logger.InfoContext(ctx, "resubscribed after reconnect", slog.Int("assets", len(ids)))
}

func (s *Sniper) mirror(m domain.MarketSnapshot) {
	if s.deps.Mirror != nil {
		s.deps.Mirror.Mirror(m)
	}
}

func (s *Sniper) countRetry(outcome string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.Retries.WithLabelValues(outcome).Inc()
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
