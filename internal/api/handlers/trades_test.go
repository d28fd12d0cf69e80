package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbutler-a11y/tradewatch/internal/database"
)

var tradeRowColumns = []string{
	"id", "channel_id", "channel_name", "symbol", "direction", "entry_time", "exit_time",
	"duration_sec", "entry_price", "exit_price", "stop_loss", "take_profit", "size", "pnl", "result",
}

func newTradeTestRouter(t *testing.T) (*gin.Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	handler := NewTradeHandler(database.NewTradeRepository(mock), logger)
	router := gin.New()
	router.GET("/api/v1/trades", handler.ListTrades)
	router.GET("/api/v1/trades/stats", handler.TradeStats)
	return router, mock
}

func closedTradeRow(rows *pgxmock.Rows) *pgxmock.Rows {
	entry := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	exit := entry.Add(12 * time.Minute)
	duration := int64(720)
	exitPrice := decimal.RequireFromString("5890")
	pnl := decimal.RequireFromString("-20")
	return rows.AddRow(
		"trade-1", "ch-1", "Alpha Futures", "ES", "LONG",
		entry, &exit, &duration, decimal.RequireFromString("5900"),
		&exitPrice, (*decimal.Decimal)(nil), (*decimal.Decimal)(nil),
		decimal.NewFromInt(2), &pnl, "LOSS",
	)
}

func TestListTrades_JSON(t *testing.T) {
	router, mock := newTradeTestRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WillReturnRows(closedTradeRow(pgxmock.NewRows(tradeRowColumns)))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"count":1`)
	assert.Contains(t, recorder.Body.String(), `"symbol":"ES"`)
}

func TestListTrades_CSVFormat(t *testing.T) {
	router, mock := newTradeTestRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WillReturnRows(closedTradeRow(pgxmock.NewRows(tradeRowColumns)))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades?format=csv", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "text/csv", recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "trades.csv")
	assert.Contains(t, recorder.Body.String(), "id,channel_id,channel_name,symbol")
	assert.Contains(t, recorder.Body.String(), "trade-1")
}

func TestListTrades_FilterPassthrough(t *testing.T) {
	router, mock := newTradeTestRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM trades WHERE symbol = \\$1 AND result = \\$2").
		WithArgs("ES", "WIN").
		WillReturnRows(pgxmock.NewRows(tradeRowColumns))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades?symbol=ES&result=WIN", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTrades_BadTimeFilterRejected(t *testing.T) {
	router, _ := newTradeTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades?from=yesterday", nil))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "invalid from time")
}

func TestListTrades_BadLimitRejected(t *testing.T) {
	router, _ := newTradeTestRouter(t)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades?limit=-5", nil))

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestTradeStats_Aggregates(t *testing.T) {
	router, mock := newTradeTestRouter(t)
	mock.ExpectQuery("SELECT (.+) FROM trades").
		WillReturnRows(closedTradeRow(pgxmock.NewRows(tradeRowColumns)))

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/v1/trades/stats", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"total_trades":1`)
	assert.Contains(t, recorder.Body.String(), `"losses":1`)
}
