package handlers

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/models"
	"github.com/dbutler-a11y/tradewatch/internal/services"
	"github.com/dbutler-a11y/tradewatch/internal/utils"
)

// SignalHandler ingests raw text and screenshot OCR output and feeds the
// extracted candidate signals through the correlator.
type SignalHandler struct {
	parser     *services.SignalParser
	extractor  *services.OCRExtractor
	correlator *services.Correlator
	notifier   *services.NotificationService
	logger     *logrus.Logger
}

func NewSignalHandler(parser *services.SignalParser, extractor *services.OCRExtractor, correlator *services.Correlator, notifier *services.NotificationService, logger *logrus.Logger) *SignalHandler {
	return &SignalHandler{
		parser:     parser,
		extractor:  extractor,
		correlator: correlator,
		notifier:   notifier,
		logger:     logger,
	}
}

// TextSignalRequest carries one chat message or caption segment.
type TextSignalRequest struct {
	ChannelID   string    `json:"channel_id" binding:"required"`
	ChannelName string    `json:"channel_name"`
	SourceID    string    `json:"source_id"`
	SourceType  string    `json:"source_type"`
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text" binding:"required"`
}

// ScreenshotSignalRequest carries the OCR engine output for one screenshot.
type ScreenshotSignalRequest struct {
	ChannelID     string    `json:"channel_id" binding:"required"`
	ChannelName   string    `json:"channel_name"`
	SourceID      string    `json:"source_id"`
	Timestamp     time.Time `json:"timestamp"`
	OCRText       string    `json:"ocr_text" binding:"required"`
	OCRConfidence float64   `json:"ocr_confidence"`
	PlatformHint  string    `json:"platform_hint"`
	ImageBase64   string    `json:"image_base64"`
}

// IngestResponse reports what one ingest call produced.
type IngestResponse struct {
	Signals        []models.CandidateSignal `json:"signals"`
	AffectedTrades []*models.TradeRecord    `json:"affected_trades"`
}

// IngestText handles POST /api/v1/signals/text.
func (h *SignalHandler) IngestText(c *gin.Context) {
	var req TextSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.NewValidationErrorf("invalid request: %v", err).Error()})
		return
	}

	sourceType := models.SourceType(req.SourceType)
	if sourceType != models.SourceTypeChat && sourceType != models.SourceTypeCaption {
		sourceType = models.SourceTypeChat
	}
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	signals := h.parser.Parse(req.Text, services.SourceMeta{
		SourceID:   req.SourceID,
		SourceType: sourceType,
		Timestamp:  timestamp,
	})
	affected := h.correlator.ProcessBatch(c.Request.Context(), req.ChannelID, req.ChannelName, signals)
	h.notifyClosed(c, affected)

	c.JSON(http.StatusOK, IngestResponse{Signals: signals, AffectedTrades: affected})
}

// IngestScreenshot handles POST /api/v1/signals/screenshot.
func (h *SignalHandler) IngestScreenshot(c *gin.Context) {
	var req ScreenshotSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": utils.NewValidationErrorf("invalid request: %v", err).Error()})
		return
	}

	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	extraction := h.extractor.Extract(req.OCRText, req.OCRConfidence, models.Platform(req.PlatformHint))

	// A decodable pixel buffer only corroborates; a missing or broken
	// image changes nothing.
	colorHint := models.DirectionUnknown
	if req.ImageBase64 != "" {
		if raw, err := base64.StdEncoding.DecodeString(req.ImageBase64); err == nil {
			if img, _, err := image.Decode(bytes.NewReader(raw)); err == nil {
				colorHint, _ = h.extractor.ColorDirectionHint(img)
			}
		}
	}

	signals := h.extractor.SignalsFromExtraction(extraction, services.SourceMeta{
		SourceID:  req.SourceID,
		Timestamp: timestamp,
	}, colorHint)
	affected := h.correlator.ProcessBatch(c.Request.Context(), req.ChannelID, req.ChannelName, signals)
	h.notifyClosed(c, affected)

	c.JSON(http.StatusOK, gin.H{
		"extraction":      extraction,
		"signals":         signals,
		"affected_trades": affected,
	})
}

func (h *SignalHandler) notifyClosed(c *gin.Context, trades []*models.TradeRecord) {
	if h.notifier == nil {
		return
	}
	for _, trade := range trades {
		if !trade.IsOpen() {
			h.notifier.NotifyTradeClosed(c.Request.Context(), trade)
		}
	}
}
