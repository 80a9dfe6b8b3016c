package sim

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/queue"
)

// ReadTicksCSV parses a tick tape with the columns
// timestamp_ms,market_id,price,volume[,no_price]. A header row is skipped.
func ReadTicksCSV(r io.Reader) ([]Tick, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var ticks []Tick
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return ticks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sim: tick tape line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(rec[0], "timestamp_ms") {
			continue
		}
		if len(rec) != 4 && len(rec) != 5 {
			return nil, fmt.Errorf("sim: tick tape line %d: %d fields, want 4 or 5", line, len(rec))
		}
		ms, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sim: tick tape line %d: timestamp: %w", line, err)
		}
		price, err := strconv.ParseFloat(rec[2], 64)
		if err != nil || price <= 0 || price >= 1 {
			return nil, fmt.Errorf("sim: tick tape line %d: price %q outside (0,1)", line, rec[2])
		}
		vol, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("sim: tick tape line %d: volume: %w", line, err)
		}
		tick := Tick{
			Timestamp: time.UnixMilli(ms),
			MarketID:  rec[1],
			Price:     price,
			Volume:    vol,
		}
		if len(rec) == 5 && rec[4] != "" {
			no, err := strconv.ParseFloat(rec[4], 64)
			if err != nil || no <= 0 || no >= 1 {
				return nil, fmt.Errorf("sim: tick tape line %d: no_price %q outside (0,1)", line, rec[4])
			}
			tick.NoPrice = no
		}
		ticks = append(ticks, tick)
	}
}

// DemoMarkets builds n binary markets with deterministic ids and asset ids.
func DemoMarkets(n int, now time.Time) []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, 0, n)
	for i := range n {
		id := fmt.Sprintf("0x%064x", i+1)
		end := now.Add(time.Duration(i+1) * time.Hour)
		out = append(out, domain.MarketSnapshot{
			ID:        id,
			Question:  fmt.Sprintf("Simulated market %d", i+1),
			EndTime:   &end,
			Volume:    50_000,
			Liquidity: 10_000,
			Volume24h: 5_000,
			YesPrice:  0.5,
			NoPrice:   0.5,
			AssetIDs:  []string{fmt.Sprintf("sim-%d-yes", i+1), fmt.Sprintf("sim-%d-no", i+1)},
			State:     domain.MarketStateIndexed,
			UpdatedAt: now,
		})
	}
	return out
}

// GenerateTicks produces a seeded random walk of YES prices across the
// given markets, one tick per step. Roughly one tick in dislocateEvery
// underprices the NO token so the pair trades below 1.
func GenerateTicks(markets []domain.MarketSnapshot, steps, dislocateEvery int, seed uint64, start time.Time) []Tick {
	if len(markets) == 0 {
		return nil
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	prices := make([]float64, len(markets))
	for i := range prices {
		prices[i] = 0.5
	}
	ticks := make([]Tick, 0, steps)
	for step := range steps {
		i := rng.IntN(len(markets))
		p := prices[i] + rng.NormFloat64()*0.03
		p = min(max(p, 0.02), 0.98)
		prices[i] = p
		tick := Tick{
			Timestamp: start.Add(time.Duration(step) * time.Second),
			MarketID:  markets[i].ID,
			Price:     roundCent(p),
			Volume:    float64(10 + rng.IntN(500)),
		}
		if dislocateEvery > 0 && rng.IntN(dislocateEvery) == 0 {
			tick.NoPrice = max(roundCent(1-p-0.04-rng.Float64()*0.04), 0.01)
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

func roundCent(p float64) float64 {
	return float64(int(p*100+0.5)) / 100
}

// Replay feeds the tape into out at the given interval until the tape ends
// or ctx is cancelled. It is the channel's only producer in simulation.
func (s *MarketSimulator) Replay(ctx context.Context, out *queue.Channel[domain.OrderBookUpdate], interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	replayed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		_, updates, ok := s.NextTick()
		if !ok {
			s.logger.InfoContext(ctx, "tick tape exhausted", slog.Int("replayed", replayed))
			return nil
		}
		replayed++
		for _, u := range updates {
			out.Send(u)
		}
	}
}
