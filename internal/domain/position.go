package domain

import "time"

// Position is an open holding accepted by the risk manager. For BOTH
// positions EntryPrice is the cost of one YES+NO pair.
type Position struct {
	TradeID      string    `json:"trade_id"`
	MarketID     string    `json:"market_id"`
	Question     string    `json:"question"`
	Side         Side      `json:"side"`
	SizeUSD      float64   `json:"size_usd"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	EntryTime    time.Time `json:"entry_time"`
}

// Shares is the number of tokens (or pairs) the position holds.
func (p Position) Shares() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.SizeUSD / p.EntryPrice
}

// UnrealizedPnL values the position at CurrentPrice.
func (p Position) UnrealizedPnL() float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	return p.Shares() * (p.CurrentPrice - p.EntryPrice)
}

// ExitReason names why a position was closed.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitRedeemed   ExitReason = "redeemed"
	ExitManual     ExitReason = "manual"
)

// Trade is a closed position.
type Trade struct {
	TradeID    string     `json:"trade_id"`
	MarketID   string     `json:"market_id"`
	Question   string     `json:"question"`
	Side       Side       `json:"side"`
	SizeUSD    float64    `json:"size_usd"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	PnL        float64    `json:"pnl"`
	Reason     ExitReason `json:"reason"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   time.Time  `json:"exit_time"`
}

// PortfolioSnapshot is a point-in-time valuation of the portfolio.
type PortfolioSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	OpenPositions  int       `json:"open_positions"`
}

// Stats summarises trading performance.
type Stats struct {
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	TotalPnL       float64 `json:"total_pnl"`
	AvgPnL         float64 `json:"avg_pnl"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	RealizedPnL    float64 `json:"realized_pnl"`
	OpenPositions  int     `json:"open_positions"`
	PortfolioValue float64 `json:"portfolio_value"`
	InitialCapital float64 `json:"initial_capital"`
	ReturnPct      float64 `json:"return_pct"`
}
