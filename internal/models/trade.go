package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeResult classifies a finished trade, or marks it still open.
type TradeResult string

const (
	ResultWin       TradeResult = "WIN"
	ResultLoss      TradeResult = "LOSS"
	ResultBreakeven TradeResult = "BREAKEVEN"
	ResultOpen      TradeResult = "OPEN"
)

// TradeRecord is the durable unit produced by the correlator: a trade with a
// tracked entry/exit lifecycle and derived metrics.
//
// Invariants: Result == ResultOpen iff ExitTime is nil; DurationSec is
// ExitTime - EntryTime in seconds when both are set; Result always agrees
// with the sign of Pnl relative to the breakeven band.
type TradeRecord struct {
	ID          string           `json:"id"`
	ChannelID   string           `json:"channel_id"`
	ChannelName string           `json:"channel_name"`
	Symbol      string           `json:"symbol"`
	Direction   Direction        `json:"direction"`
	EntryTime   time.Time        `json:"entry_time"`
	ExitTime    *time.Time       `json:"exit_time,omitempty"`
	DurationSec *int64           `json:"duration_sec,omitempty"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	ExitPrice   *decimal.Decimal `json:"exit_price,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	Size        decimal.Decimal  `json:"size"`
	Pnl         *decimal.Decimal `json:"pnl,omitempty"`
	Result      TradeResult      `json:"result"`
}

// IsOpen reports whether the trade has not been closed yet.
func (t *TradeRecord) IsOpen() bool {
	return t.ExitTime == nil
}

// ChannelLiveState is the monitor's view of one content channel. It is owned
// exclusively by the monitor; every other component reads it as a value.
type ChannelLiveState struct {
	ChannelID      string    `json:"channel_id"`
	Handle         string    `json:"handle"`
	ResolvedID     string    `json:"resolved_id,omitempty"`
	IsLive         bool      `json:"is_live"`
	LastStreamID   string    `json:"last_stream_id,omitempty"`
	Title          string    `json:"title,omitempty"`
	ViewerCount    int       `json:"viewer_count"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
	CheckError     string    `json:"check_error,omitempty"`
	QuotaExhausted bool      `json:"quota_exhausted,omitempty"`
}
