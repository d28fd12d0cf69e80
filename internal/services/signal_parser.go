package services

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// SourceMeta identifies where a block of text came from.
type SourceMeta struct {
	SourceID   string
	SourceType models.SourceType
	Timestamp  time.Time
}

// defaultSymbols covers the futures roots, their micros, and the liquid
// tickers that show up in day-trading streams. Extended via parser config.
var defaultSymbols = []string{
	// Futures roots
	"ES", "NQ", "YM", "RTY", "CL", "GC", "SI", "NG", "HG", "ZB", "ZN",
	// Micros
	"MES", "MNQ", "MYM", "M2K", "MCL", "MGC",
	// Stock tickers
	"SPY", "QQQ", "IWM", "AAPL", "TSLA", "NVDA", "AMD", "META", "AMZN", "MSFT", "GOOGL",
}

var (
	longKeywords  = []string{"long", "buy", "buying", "bought", "calls", "bullish"}
	shortKeywords = []string{"short", "shorting", "shorted", "sell", "selling", "sold", "puts", "bearish"}

	enterKeywords = []string{"enter", "entry", "entered", "entering", "add", "added", "adding", "opened"}
	exitKeywords  = []string{"exit", "exited", "close", "closed", "closing", "stopped", "out", "flat", "trimmed", "took", "profit", "tp"}

	pricePattern  = regexp.MustCompile(`^\$?\d{1,6}(,\d{3})*(\.\d+)?$`)
	sizePattern   = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(contracts?|lots?|cars?)\b`)
	tokenSplitter = regexp.MustCompile(`[^0-9A-Za-z$.,]+`)
)

// SignalParser converts chat messages and caption text into candidate trade
// signals by scanning for known symbols and nearby corroborating cues. It is
// stateless after construction: parsing the same text twice yields identical
// output.
type SignalParser struct {
	logger      *logrus.Logger
	symbols     map[string]bool
	tokenWindow int
}

// NewSignalParser creates a parser with the default vocabulary plus any
// extra symbols from config.
func NewSignalParser(cfg config.ParserConfig, logger *logrus.Logger) *SignalParser {
	symbols := make(map[string]bool, len(defaultSymbols)+len(cfg.ExtraSymbols))
	for _, s := range defaultSymbols {
		symbols[s] = true
	}
	for _, s := range cfg.ExtraSymbols {
		symbols[strings.ToUpper(strings.TrimSpace(s))] = true
	}

	window := cfg.TokenWindow
	if window <= 0 {
		window = 8
	}

	return &SignalParser{
		logger:      logger,
		symbols:     symbols,
		tokenWindow: window,
	}
}

// KnownSymbol reports whether a token names an instrument in the vocabulary.
// Leading "$" prefixes are stripped before matching.
func (p *SignalParser) KnownSymbol(token string) (string, bool) {
	cleaned := strings.ToUpper(strings.Trim(token, "$.,:;!?"))
	if p.symbols[cleaned] {
		return cleaned, true
	}
	return "", false
}

// Parse extracts candidate signals from a block of text. Malformed input
// never fails; text without matches yields an empty slice.
func (p *SignalParser) Parse(text string, meta SourceMeta) []models.CandidateSignal {
	var signals []models.CandidateSignal

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		signals = append(signals, p.parseLine(line, meta)...)
	}

	if len(signals) > 0 {
		p.logger.WithFields(logrus.Fields{
			"source_id":   meta.SourceID,
			"source_type": meta.SourceType,
			"signals":     len(signals),
		}).Debug("Extracted candidate signals")
	}

	return signals
}

func (p *SignalParser) parseLine(line string, meta SourceMeta) []models.CandidateSignal {
	tokens := tokenSplitter.Split(line, -1)

	var signals []models.CandidateSignal
	for i, token := range tokens {
		symbol, ok := p.KnownSymbol(token)
		if !ok {
			continue
		}

		lo := i - p.tokenWindow
		if lo < 0 {
			lo = 0
		}
		hi := i + p.tokenWindow + 1
		if hi > len(tokens) {
			hi = len(tokens)
		}
		window := tokens[lo:hi]

		signal := models.CandidateSignal{
			SourceID:   meta.SourceID,
			SourceType: meta.SourceType,
			Timestamp:  meta.Timestamp,
			Symbol:     symbol,
			Direction:  directionFromTokens(window, line),
			Action:     actionFromTokens(window),
			Confidence: 0.3,
		}

		size, sizeToken, hasSize := sizeCue(line)
		if hasSize {
			signal.Size = &size
		}
		if price, ok := firstPrice(window, symbol, sizeToken); ok {
			signal.Price = &price
		}

		// Confidence grows with corroborating cues: a bare symbol
		// mention stays low, symbol+direction+price is high.
		if signal.Direction != models.DirectionUnknown {
			signal.Confidence += 0.2
		}
		if signal.Action != models.ActionUnknown {
			signal.Confidence += 0.2
		}
		if signal.Price != nil {
			signal.Confidence += 0.2
		}

		signals = append(signals, signal)
	}

	return signals
}

func directionFromTokens(window []string, rawLine string) models.Direction {
	// Arrow glyphs survive in chat but not in the token stream.
	if strings.Contains(rawLine, "▲") {
		return models.DirectionLong
	}
	if strings.Contains(rawLine, "▼") {
		return models.DirectionShort
	}

	for _, token := range window {
		lower := strings.ToLower(strings.Trim(token, ".,:;!?"))
		for _, kw := range shortKeywords {
			if lower == kw {
				return models.DirectionShort
			}
		}
		for _, kw := range longKeywords {
			if lower == kw {
				return models.DirectionLong
			}
		}
	}
	return models.DirectionUnknown
}

func actionFromTokens(window []string) models.SignalAction {
	for _, token := range window {
		lower := strings.ToLower(strings.Trim(token, ".,:;!?"))
		for _, kw := range exitKeywords {
			if lower == kw {
				return models.ActionExit
			}
		}
		for _, kw := range enterKeywords {
			if lower == kw {
				return models.ActionEnter
			}
		}
	}
	return models.ActionUnknown
}

// firstPrice returns the first currency-looking number in the window that
// is not the symbol token, the size cue, or a bare small integer. Small
// integers near a symbol are almost always contract counts, not prices.
func firstPrice(window []string, symbol, sizeToken string) (decimal.Decimal, bool) {
	for _, token := range window {
		trimmed := strings.Trim(token, ".,:;!?")
		if trimmed == "" || strings.EqualFold(trimmed, symbol) || trimmed == sizeToken {
			continue
		}
		if !pricePattern.MatchString(trimmed) {
			continue
		}
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(trimmed)
		price, err := decimal.NewFromString(cleaned)
		if err != nil || price.IsZero() {
			continue
		}
		if price.IsInteger() && price.LessThan(decimal.NewFromInt(10)) {
			continue
		}
		return price, true
	}
	return decimal.Decimal{}, false
}

// sizeCue also returns the matched digits so the price scan can skip the
// same token.
func sizeCue(line string) (decimal.Decimal, string, bool) {
	match := sizePattern.FindStringSubmatch(line)
	if match == nil {
		return decimal.Decimal{}, "", false
	}
	size, err := decimal.NewFromString(match[1])
	if err != nil || size.IsZero() {
		return decimal.Decimal{}, "", false
	}
	return size, match[1], true
}
