package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/database"
	"github.com/dbutler-a11y/tradewatch/internal/export"
	"github.com/dbutler-a11y/tradewatch/internal/models"
	"github.com/dbutler-a11y/tradewatch/internal/services"
	"github.com/dbutler-a11y/tradewatch/internal/utils"
)

// TradeHandler serves the trade journal and its aggregate statistics.
type TradeHandler struct {
	repo   *database.TradeRepository
	logger *logrus.Logger
}

func NewTradeHandler(repo *database.TradeRepository, logger *logrus.Logger) *TradeHandler {
	return &TradeHandler{repo: repo, logger: logger}
}

// ListTrades handles GET /api/v1/trades. With format=csv the journal is
// streamed as a CSV attachment instead of JSON.
func (h *TradeHandler) ListTrades(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trades, err := h.repo.Query(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query trades"})
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="trades.csv"`)
		if err := export.WriteTradesCSV(c.Writer, trades); err != nil {
			h.logger.WithError(err).Error("Failed to write trades CSV")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// TradeStats handles GET /api/v1/trades/stats. The same query filters as
// ListTrades apply before aggregation.
func (h *TradeHandler) TradeStats(c *gin.Context) {
	filter, err := filterFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trades, err := h.repo.Query(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to query trades for stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query trades"})
		return
	}

	c.JSON(http.StatusOK, services.AggregateTrades(trades))
}

func filterFromQuery(c *gin.Context) (database.TradeFilter, error) {
	filter := database.TradeFilter{
		ChannelID: c.Query("channel_id"),
		Symbol:    c.Query("symbol"),
		Direction: models.Direction(c.Query("direction")),
		Result:    models.TradeResult(c.Query("result")),
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, utils.NewValidationErrorf("invalid from time: %v", err)
		}
		filter.From = from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, utils.NewValidationErrorf("invalid to time: %v", err)
		}
		filter.To = to
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, utils.NewValidationError("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}

	return filter, nil
}
