package services

import (
	"image"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// platformKeywords maps lowercase markers in OCR text to known platforms.
// Checked in order so the more distinctive names win.
var platformKeywords = []struct {
	keyword  string
	platform models.Platform
}{
	{"ninjatrader", models.PlatformNinjaTrader},
	{"tradovate", models.PlatformTradovate},
	{"topstep", models.PlatformTopstep},
	{"thinkorswim", models.PlatformThinkorswim},
	{"tradingview", models.PlatformTradingView},
}

// Balance patterns are ordered most specific first; the first numeric match
// that passes the plausibility filter wins.
var balancePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)account\s+balance[:\s]*\$?\s*(-?[\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)net\s+liq(?:uidation)?(?:\s+value)?[:\s]*\$?\s*(-?[\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)total\s+(?:account\s+)?value[:\s]*\$?\s*(-?[\d,]+(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)\bbalance[:\s]*\$?\s*(-?[\d,]+(?:\.\d+)?)`),
}

// Bracketed negatives keep the "$" inside the parens on most blotters, so
// the capture group admits it and the cleaner strips it.
var dailyPnlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)daily\s+p&?n?l[:\s]*\$?\s*(\(?\$?-?[\d,]+(?:\.\d+)?\)?)`),
	regexp.MustCompile(`(?i)day\s+p&?n?l[:\s]*\$?\s*(\(?\$?-?[\d,]+(?:\.\d+)?\)?)`),
	regexp.MustCompile(`(?i)realized\s+p&?n?l[:\s]*\$?\s*(\(?\$?-?[\d,]+(?:\.\d+)?\)?)`),
	regexp.MustCompile(`(?i)open\s+p&?n?l[:\s]*\$?\s*(\(?\$?-?[\d,]+(?:\.\d+)?\)?)`),
}

var (
	lineNumberPattern  = regexp.MustCompile(`-?\$?\d{1,6}(?:,\d{3})*(?:\.\d+)?`)
	negativeQtyPattern = regexp.MustCompile(`(?:^|\s)-\d`)
	quantityPattern    = regexp.MustCompile(`(?i)\b(?:qty|pos|size)[:\s]*(-?\d{1,3})\b`)
)

var shortIndicators = []string{"sell", "short", "-"}
var longIndicators = []string{"buy", "long"}

// OCRExtractor turns OCR engine output for a trading platform screenshot
// into structured detected positions. It reuses the signal parser's symbol
// vocabulary and never fails on garbage input.
type OCRExtractor struct {
	parser *SignalParser
	cfg    config.OCRConfig
	logger *logrus.Logger
}

// NewOCRExtractor creates an extractor sharing the parser's pattern tables.
func NewOCRExtractor(parser *SignalParser, cfg config.OCRConfig, logger *logrus.Logger) *OCRExtractor {
	return &OCRExtractor{
		parser: parser,
		cfg:    cfg,
		logger: logger,
	}
}

// Extract parses OCR text into detected positions, account balance and
// daily P&L. When the OCR engine reports confidence below the configured
// threshold the extraction short-circuits to an empty, flagged result
// instead of parsing noise.
//
// Price assignment is a documented heuristic: all currency numbers on a
// position line are sorted and the minimum is taken as entry, the maximum
// as current price. When stop or target prices appear on the same line the
// assignment can be wrong, so callers must treat positions as best-effort
// enrichment, not ground truth.
func (e *OCRExtractor) Extract(ocrText string, ocrConfidence float64, platformHint models.Platform) models.ScreenshotExtraction {
	result := models.ScreenshotExtraction{
		Platform:      models.PlatformUnknown,
		OCRConfidence: ocrConfidence,
	}

	if ocrConfidence < e.cfg.MinConfidence {
		e.logger.WithFields(logrus.Fields{
			"confidence": ocrConfidence,
			"threshold":  e.cfg.MinConfidence,
		}).Debug("OCR confidence below threshold, skipping extraction")
		result.LowConfidence = true
		return result
	}

	result.Platform = e.resolvePlatform(ocrText, platformHint)

	for _, line := range strings.Split(ocrText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if position, ok := e.parsePositionLine(line); ok {
			result.Positions = append(result.Positions, position)
		}
	}

	result.AccountBalance = e.firstPlausibleMatch(ocrText, balancePatterns, decimal.NewFromFloat(e.cfg.MinBalance))
	result.DailyPnl = e.firstPlausibleMatch(ocrText, dailyPnlPatterns, decimal.Decimal{})

	return result
}

// resolvePlatform picks the platform by priority: explicit hint, then
// keyword presence, then unknown.
func (e *OCRExtractor) resolvePlatform(ocrText string, hint models.Platform) models.Platform {
	if hint != "" && hint != models.PlatformUnknown {
		return hint
	}
	lower := strings.ToLower(ocrText)
	for _, entry := range platformKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.platform
		}
	}
	return models.PlatformUnknown
}

func (e *OCRExtractor) parsePositionLine(line string) (models.DetectedPosition, bool) {
	var symbol string
	for _, token := range strings.Fields(line) {
		if matched, ok := e.parser.KnownSymbol(token); ok {
			symbol = matched
			break
		}
	}
	if symbol == "" {
		return models.DetectedPosition{}, false
	}

	prices := currencyNumbers(line)
	if len(prices) == 0 {
		return models.DetectedPosition{}, false
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	position := models.DetectedPosition{
		Symbol:       symbol,
		Direction:    lineDirection(line),
		Size:         decimal.NewFromInt(1),
		EntryPrice:   prices[0],
		CurrentPrice: prices[len(prices)-1],
	}

	if qty, ok := lineQuantity(line); ok {
		position.Size = qty
	}
	if len(prices) > 1 {
		pnl := position.CurrentPrice.Sub(position.EntryPrice).Mul(position.Size)
		if position.Direction == models.DirectionShort {
			pnl = pnl.Neg()
		}
		position.UnrealizedPnl = &pnl
	}

	return position, true
}

// lineDirection checks short indicators before long ones: sell markers are
// the explicit negation on most platform blotters, long is the default.
func lineDirection(line string) models.Direction {
	lower := strings.ToLower(line)
	for _, indicator := range shortIndicators {
		if indicator == "-" {
			// A leading minus on the quantity column marks a short.
			if negativeQtyPattern.MatchString(lower) {
				return models.DirectionShort
			}
			continue
		}
		if strings.Contains(lower, indicator) {
			return models.DirectionShort
		}
	}
	for _, indicator := range longIndicators {
		if strings.Contains(lower, indicator) {
			return models.DirectionLong
		}
	}
	return models.DirectionLong
}

func lineQuantity(line string) (decimal.Decimal, bool) {
	match := quantityPattern.FindStringSubmatch(line)
	if match == nil {
		return decimal.Decimal{}, false
	}
	qty, err := decimal.NewFromString(strings.TrimPrefix(match[1], "-"))
	if err != nil || qty.IsZero() {
		return decimal.Decimal{}, false
	}
	return qty, true
}

// currencyNumbers collects every currency-looking figure on a line,
// skipping small integers that are more likely quantities than prices.
func currencyNumbers(line string) []decimal.Decimal {
	var numbers []decimal.Decimal
	for _, raw := range lineNumberPattern.FindAllString(line, -1) {
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(raw)
		value, err := decimal.NewFromString(cleaned)
		if err != nil {
			continue
		}
		// Quantities on blotter lines are small; prices are not.
		if value.Abs().LessThan(decimal.NewFromInt(10)) && value.IsInteger() {
			continue
		}
		numbers = append(numbers, value.Abs())
	}
	return numbers
}

func (e *OCRExtractor) firstPlausibleMatch(text string, patterns []*regexp.Regexp, minimum decimal.Decimal) *decimal.Decimal {
	for _, pattern := range patterns {
		match := pattern.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		raw := match[1]
		negative := strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")")
		cleaned := strings.NewReplacer("(", "", ")", "", "$", "", ",", "").Replace(raw)
		value, err := decimal.NewFromString(cleaned)
		if err != nil {
			continue
		}
		if negative {
			value = value.Neg()
		}
		// The plausibility floor filters out small stray figures that the
		// looser patterns would otherwise claim as an account balance.
		if !minimum.IsZero() && value.Abs().LessThan(minimum) {
			continue
		}
		return &value
	}
	return nil
}

// ColorDirectionHint computes the ratio of green-dominant to red-dominant
// pixels in a decoded screenshot, excluding near-white and near-black
// pixels. The returned direction is a corroboration hint only: it never
// overrides text-derived direction, it just supplements confidence.
func (e *OCRExtractor) ColorDirectionHint(img image.Image) (models.Direction, float64) {
	if img == nil {
		return models.DirectionUnknown, 0
	}

	bounds := img.Bounds()
	var greenCount, redCount int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r16, g16, b16, _ := img.At(x, y).RGBA()
			r, g, b := int(r16>>8), int(g16>>8), int(b16>>8)

			if r > 230 && g > 230 && b > 230 {
				continue
			}
			if r < 25 && g < 25 && b < 25 {
				continue
			}

			if g > r+30 && g > b+30 {
				greenCount++
			} else if r > g+30 && r > b+30 {
				redCount++
			}
		}
	}

	if greenCount == 0 && redCount == 0 {
		return models.DirectionUnknown, 0
	}

	minRatio := e.cfg.MinColorRatio
	if minRatio <= 0 {
		minRatio = 1.5
	}

	if redCount == 0 || float64(greenCount)/float64(redCount) >= minRatio {
		ratio := float64(greenCount)
		if redCount > 0 {
			ratio = float64(greenCount) / float64(redCount)
		}
		return models.DirectionLong, ratio
	}
	if greenCount == 0 || float64(redCount)/float64(greenCount) >= minRatio {
		ratio := float64(redCount)
		if greenCount > 0 {
			ratio = float64(redCount) / float64(greenCount)
		}
		return models.DirectionShort, ratio
	}
	return models.DirectionUnknown, 0
}

// SignalsFromExtraction converts detected positions into ENTER candidate
// signals for the correlator. A pixel-color hint that agrees with the
// text-derived direction bumps confidence by the configured boost.
func (e *OCRExtractor) SignalsFromExtraction(extraction models.ScreenshotExtraction, meta SourceMeta, colorHint models.Direction) []models.CandidateSignal {
	if extraction.LowConfidence {
		return nil
	}

	signals := make([]models.CandidateSignal, 0, len(extraction.Positions))
	for _, position := range extraction.Positions {
		entryPrice := position.EntryPrice
		size := position.Size
		signal := models.CandidateSignal{
			SourceID:   meta.SourceID,
			SourceType: models.SourceTypeScreenshot,
			Timestamp:  meta.Timestamp,
			Symbol:     position.Symbol,
			Direction:  position.Direction,
			Action:     models.ActionEnter,
			Price:      &entryPrice,
			Size:       &size,
			Confidence: extraction.OCRConfidence,
		}
		if colorHint != models.DirectionUnknown && colorHint == position.Direction {
			signal.Confidence += e.cfg.ColorHintBoost
			if signal.Confidence > 1 {
				signal.Confidence = 1
			}
		}
		signals = append(signals, signal)
	}
	return signals
}
