package services

import (
	"github.com/shopspring/decimal"

	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// GroupStats carries the per-group breakdown of a trade set. Win rate is
// computed locally from the group's own closed trades, never inherited from
// the global rate.
type GroupStats struct {
	Trades       int             `json:"trades"`
	ClosedTrades int             `json:"closed_trades"`
	Wins         int             `json:"wins"`
	TotalPnl     decimal.Decimal `json:"total_pnl"`
	WinRate      float64         `json:"win_rate"`
}

// Stats is the aggregate performance view over a collection of trades.
type Stats struct {
	TotalTrades    int                   `json:"total_trades"`
	OpenTrades     int                   `json:"open_trades"`
	ClosedTrades   int                   `json:"closed_trades"`
	Wins           int                   `json:"wins"`
	Losses         int                   `json:"losses"`
	Breakevens     int                   `json:"breakevens"`
	WinRate        float64               `json:"win_rate"`
	TotalPnl       decimal.Decimal       `json:"total_pnl"`
	AvgPnl         decimal.Decimal       `json:"avg_pnl"`
	AvgWin         decimal.Decimal       `json:"avg_win"`
	AvgLoss        decimal.Decimal       `json:"avg_loss"`
	ProfitFactor   decimal.Decimal       `json:"profit_factor"`
	LargestWin     decimal.Decimal       `json:"largest_win"`
	LargestLoss    decimal.Decimal       `json:"largest_loss"`
	AvgDurationSec float64               `json:"avg_duration_sec"`
	BySymbol       map[string]GroupStats `json:"by_symbol"`
	ByChannel      map[string]GroupStats `json:"by_channel"`
}

// AggregateTrades computes aggregate statistics over a set of trade
// records. It is total: empty input yields all-zero stats with rates of 0,
// and no input can make it fail.
func AggregateTrades(trades []models.TradeRecord) Stats {
	stats := Stats{
		BySymbol:  make(map[string]GroupStats),
		ByChannel: make(map[string]GroupStats),
	}

	var (
		grossWins     decimal.Decimal
		grossLosses   decimal.Decimal
		totalDuration int64
	)

	for _, trade := range trades {
		stats.TotalTrades++

		symbolGroup := stats.BySymbol[trade.Symbol]
		channelGroup := stats.ByChannel[trade.ChannelID]
		symbolGroup.Trades++
		channelGroup.Trades++

		if trade.IsOpen() || trade.Pnl == nil {
			stats.OpenTrades++
			stats.BySymbol[trade.Symbol] = symbolGroup
			stats.ByChannel[trade.ChannelID] = channelGroup
			continue
		}

		pnl := *trade.Pnl
		stats.ClosedTrades++
		stats.TotalPnl = stats.TotalPnl.Add(pnl)
		symbolGroup.ClosedTrades++
		channelGroup.ClosedTrades++
		symbolGroup.TotalPnl = symbolGroup.TotalPnl.Add(pnl)
		channelGroup.TotalPnl = channelGroup.TotalPnl.Add(pnl)

		switch trade.Result {
		case models.ResultWin:
			stats.Wins++
			symbolGroup.Wins++
			channelGroup.Wins++
			grossWins = grossWins.Add(pnl)
			if pnl.GreaterThan(stats.LargestWin) {
				stats.LargestWin = pnl
			}
		case models.ResultLoss:
			stats.Losses++
			loss := pnl.Abs()
			grossLosses = grossLosses.Add(loss)
			if loss.GreaterThan(stats.LargestLoss) {
				stats.LargestLoss = loss
			}
		default:
			stats.Breakevens++
		}

		if trade.DurationSec != nil {
			totalDuration += *trade.DurationSec
		}

		stats.BySymbol[trade.Symbol] = symbolGroup
		stats.ByChannel[trade.ChannelID] = channelGroup
	}

	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedTrades)
		stats.AvgPnl = stats.TotalPnl.Div(decimal.NewFromInt(int64(stats.ClosedTrades)))
		stats.AvgDurationSec = float64(totalDuration) / float64(stats.ClosedTrades)
	}
	if stats.Wins > 0 {
		stats.AvgWin = grossWins.Div(decimal.NewFromInt(int64(stats.Wins)))
	}
	if stats.Losses > 0 {
		stats.AvgLoss = grossLosses.Div(decimal.NewFromInt(int64(stats.Losses)))
	}

	// Profit factor degenerates to gross wins when there are no losses,
	// so a loss-free record never divides by zero.
	if grossLosses.IsZero() {
		stats.ProfitFactor = grossWins
	} else {
		stats.ProfitFactor = grossWins.Div(grossLosses)
	}

	for symbol, group := range stats.BySymbol {
		if group.ClosedTrades > 0 {
			group.WinRate = float64(group.Wins) / float64(group.ClosedTrades)
		}
		stats.BySymbol[symbol] = group
	}
	for channel, group := range stats.ByChannel {
		if group.ClosedTrades > 0 {
			group.WinRate = float64(group.Wins) / float64(group.ClosedTrades)
		}
		stats.ByChannel[channel] = group
	}

	return stats
}
