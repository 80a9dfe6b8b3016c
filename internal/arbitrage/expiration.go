package arbitrage

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// ExpirationConfig configures the near-expiry snipe.
type ExpirationConfig struct {
	Enabled          bool
	MaxTimeRemaining time.Duration
	MinPrice         float64 // side must be at least this likely to win
	TargetPrice      float64 // and still cheaper than this
	SizeUSD          float64
}

// Expiration buys the near-certain side of a market that is about to end
// while it still trades below TargetPrice.
type Expiration struct {
	cfg    ExpirationConfig
	logger *slog.Logger
}

// NewExpiration creates the expiration strategy.
func NewExpiration(cfg ExpirationConfig, logger *slog.Logger) *Expiration {
	return &Expiration{cfg: cfg, logger: logger.With(slog.String("component", "expiration"))}
}

// Evaluate returns a Snipe for the first side (YES, then NO) priced in
// [MinPrice, TargetPrice) when the market ends within MaxTimeRemaining.
func (e *Expiration) Evaluate(m domain.MarketSnapshot, now time.Time) domain.TradeSignal {
	if !e.cfg.Enabled {
		return domain.NoSignal
	}
	remaining, ok := m.TimeRemaining(now)
	if !ok || remaining <= 0 || remaining > e.cfg.MaxTimeRemaining {
		return domain.NoSignal
	}
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		price := m.PriceFor(side)
		if price >= e.cfg.MinPrice && price < e.cfg.TargetPrice {
			e.logger.Info("expiration candidate",
				slog.String("market", m.ID),
				slog.String("side", string(side)),
				slog.Float64("price", price),
				slog.Duration("remaining", remaining),
			)
			return domain.Snipe(m.ID, side, price, e.cfg.SizeUSD)
		}
	}
	return domain.NoSignal
}

// ProfitBps is the payout edge of a snipe at price.
func ProfitBps(price float64) int {
	return toBps(1 - price)
}
