package database

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbutler-a11y/tradewatch/internal/models"
)

var tradeRowColumns = []string{
	"id", "channel_id", "channel_name", "symbol", "direction", "entry_time", "exit_time",
	"duration_sec", "entry_price", "exit_price", "stop_loss", "take_profit", "size", "pnl", "result",
}

func openTradeFixture() *models.TradeRecord {
	return &models.TradeRecord{
		ID:          "trade-1",
		ChannelID:   "ch-1",
		ChannelName: "Alpha Futures",
		Symbol:      "ES",
		Direction:   models.DirectionLong,
		EntryTime:   time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
		EntryPrice:  decimal.RequireFromString("5900"),
		Size:        decimal.NewFromInt(2),
		Result:      models.ResultOpen,
	}
}

func TestTradeRepository_Insert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	trade := openTradeFixture()
	mock.ExpectExec("INSERT INTO trades").
		WithArgs(
			trade.ID, trade.ChannelID, trade.ChannelName, trade.Symbol, "LONG",
			trade.EntryTime, trade.ExitTime, trade.DurationSec, trade.EntryPrice, trade.ExitPrice,
			trade.StopLoss, trade.TakeProfit, trade.Size, trade.Pnl, "OPEN",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewTradeRepository(mock)
	require.NoError(t, repo.Insert(context.Background(), trade))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_UpdateClose(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	trade := openTradeFixture()
	exitTime := trade.EntryTime.Add(10 * time.Minute)
	duration := int64(600)
	exitPrice := decimal.RequireFromString("5910")
	pnl := decimal.RequireFromString("20")
	trade.ExitTime = &exitTime
	trade.DurationSec = &duration
	trade.ExitPrice = &exitPrice
	trade.Pnl = &pnl
	trade.Result = models.ResultWin

	mock.ExpectExec("UPDATE trades").
		WithArgs(trade.ID, trade.ExitTime, trade.DurationSec, trade.ExitPrice, trade.Pnl, "WIN").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	repo := NewTradeRepository(mock)
	require.NoError(t, repo.UpdateClose(context.Background(), trade))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_UpdateCloseMissingTrade(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	trade := openTradeFixture()
	mock.ExpectExec("UPDATE trades").
		WithArgs(trade.ID, trade.ExitTime, trade.DurationSec, trade.ExitPrice, trade.Pnl, "OPEN").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewTradeRepository(mock)
	err = repo.UpdateClose(context.Background(), trade)
	assert.ErrorContains(t, err, "not found")
}

func TestTradeRepository_OpenTrades(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	trade := openTradeFixture()
	rows := pgxmock.NewRows(tradeRowColumns).AddRow(
		trade.ID, trade.ChannelID, trade.ChannelName, trade.Symbol, "LONG",
		trade.EntryTime, (*time.Time)(nil), (*int64)(nil), trade.EntryPrice,
		(*decimal.Decimal)(nil), (*decimal.Decimal)(nil), (*decimal.Decimal)(nil),
		trade.Size, (*decimal.Decimal)(nil), "OPEN",
	)
	mock.ExpectQuery("SELECT (.+) FROM trades WHERE result = 'OPEN'").WillReturnRows(rows)

	repo := NewTradeRepository(mock)
	trades, err := repo.OpenTrades(context.Background())

	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "trade-1", trades[0].ID)
	assert.Equal(t, models.DirectionLong, trades[0].Direction)
	assert.Equal(t, models.ResultOpen, trades[0].Result)
	assert.Nil(t, trades[0].ExitTime)
}

func TestTradeRepository_QueryBuildsFilterClauses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT (.+) FROM trades WHERE channel_id = \\$1 AND symbol = \\$2 AND result = \\$3 AND entry_time >= \\$4 ORDER BY entry_time DESC LIMIT \\$5").
		WithArgs("ch-1", "ES", "WIN", from, 50).
		WillReturnRows(pgxmock.NewRows(tradeRowColumns))

	repo := NewTradeRepository(mock)
	trades, err := repo.Query(context.Background(), TradeFilter{
		ChannelID: "ch-1",
		Symbol:    "ES",
		Result:    models.ResultWin,
		From:      from,
		Limit:     50,
	})

	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTradeRepository_QueryNoFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM trades ORDER BY entry_time DESC").
		WillReturnRows(pgxmock.NewRows(tradeRowColumns))

	repo := NewTradeRepository(mock)
	trades, err := repo.Query(context.Background(), TradeFilter{})

	require.NoError(t, err)
	assert.Empty(t, trades)
}
