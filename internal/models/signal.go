package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType identifies where a raw signal was observed.
type SourceType string

const (
	SourceTypeChat       SourceType = "chat"
	SourceTypeCaption    SourceType = "caption"
	SourceTypeScreenshot SourceType = "screenshot"
)

// Direction represents the side of a trade.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionUnknown Direction = "UNKNOWN"
)

// SignalAction represents the lifecycle intent carried by a signal.
type SignalAction string

const (
	ActionEnter   SignalAction = "ENTER"
	ActionExit    SignalAction = "EXIT"
	ActionUnknown SignalAction = "UNKNOWN"
)

// CandidateSignal is an unconfirmed trade intent extracted from raw text or
// OCR output. It is ephemeral: produced and consumed within a single
// correlation pass, never persisted directly.
type CandidateSignal struct {
	SourceID   string           `json:"source_id"`
	SourceType SourceType       `json:"source_type"`
	Timestamp  time.Time        `json:"timestamp"`
	Symbol     string           `json:"symbol"`
	Direction  Direction        `json:"direction"`
	Action     SignalAction     `json:"action"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Size       *decimal.Decimal `json:"size,omitempty"`
	Confidence float64          `json:"confidence"`
}

// HasPrice reports whether the signal carries a usable price.
func (s CandidateSignal) HasPrice() bool {
	return s.Price != nil && !s.Price.IsZero()
}

// DetectedPosition is a point-in-time snapshot of a position parsed from a
// trading platform screenshot. It carries no lifecycle information.
type DetectedPosition struct {
	Symbol        string           `json:"symbol"`
	Direction     Direction        `json:"direction"`
	Size          decimal.Decimal  `json:"size"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	UnrealizedPnl *decimal.Decimal `json:"unrealized_pnl,omitempty"`
}

// Platform identifies a known trading platform seen in screenshots.
type Platform string

const (
	PlatformNinjaTrader Platform = "ninjatrader"
	PlatformTradovate   Platform = "tradovate"
	PlatformTopstep     Platform = "topstep"
	PlatformThinkorswim Platform = "thinkorswim"
	PlatformTradingView Platform = "tradingview"
	PlatformUnknown     Platform = "unknown"
)

// ScreenshotExtraction is the result of parsing one OCR'd screenshot.
type ScreenshotExtraction struct {
	Platform       Platform           `json:"platform"`
	Positions      []DetectedPosition `json:"positions"`
	AccountBalance *decimal.Decimal   `json:"account_balance,omitempty"`
	DailyPnl       *decimal.Decimal   `json:"daily_pnl,omitempty"`
	LowConfidence  bool               `json:"low_confidence"`
	OCRConfidence  float64            `json:"ocr_confidence"`
}
