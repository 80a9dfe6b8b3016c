// Package report prints the end-of-run performance summary.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// maxTradeRows caps the recent-trades table.
const maxTradeRows = 20

// Summary writes the performance table followed by the most recent trades.
func Summary(w io.Writer, mode string, uptime time.Duration, st domain.Stats, trades []domain.Trade) error {
	fmt.Fprintf(w, "\npolysniper %s run, up %s\n", mode, uptime.Truncate(time.Second))

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][]string{
		{"Initial capital", usd(st.InitialCapital)},
		{"Portfolio value", usd(st.PortfolioValue)},
		{"Return", fmt.Sprintf("%+.2f%%", st.ReturnPct)},
		{"Realized PnL", signedUSD(st.RealizedPnL)},
		{"Unrealized PnL", signedUSD(st.UnrealizedPnL)},
		{"Trades", fmt.Sprintf("%d (%d W / %d L)", st.TotalTrades, st.Wins, st.Losses)},
		{"Win rate", fmt.Sprintf("%.1f%%", st.WinRate*100)},
		{"Avg PnL", signedUSD(st.AvgPnL)},
		{"Best / worst", signedUSD(st.BestTrade) + " / " + signedUSD(st.WorstTrade)},
		{"Sharpe", fmt.Sprintf("%.2f", st.SharpeRatio)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", st.MaxDrawdown*100)},
		{"Open positions", fmt.Sprintf("%d", st.OpenPositions)},
	}
	for _, r := range rows {
		if err := table.Append(r[0], r[1]); err != nil {
			return fmt.Errorf("report: stats row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render stats: %w", err)
	}

	if len(trades) == 0 {
		return nil
	}
	if len(trades) > maxTradeRows {
		trades = trades[len(trades)-maxTradeRows:]
	}

	fmt.Fprintf(w, "\nLast %d trades\n", len(trades))
	tt := tablewriter.NewWriter(w)
	tt.Header("Exit", "Market", "Side", "Size", "Entry", "Exit px", "PnL", "Reason")
	for _, t := range trades {
		err := tt.Append(
			t.ExitTime.UTC().Format("15:04:05"),
			truncate(t.Question, 40),
			string(t.Side),
			usd(t.SizeUSD),
			fmt.Sprintf("%.3f", t.EntryPrice),
			fmt.Sprintf("%.3f", t.ExitPrice),
			signedUSD(t.PnL),
			string(t.Reason),
		)
		if err != nil {
			return fmt.Errorf("report: trade row: %w", err)
		}
	}
	if err := tt.Render(); err != nil {
		return fmt.Errorf("report: render trades: %w", err)
	}
	return nil
}

func usd(v float64) string { return fmt.Sprintf("$%.2f", v) }

func signedUSD(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("+$%.2f", v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
