// Package export writes trade records to tabular form and reads them back.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dbutler-a11y/tradewatch/internal/models"
)

var csvHeader = []string{
	"id", "channel_id", "channel_name", "symbol", "direction",
	"entry_time", "exit_time", "duration_sec", "entry_price", "exit_price",
	"stop_loss", "take_profit", "size", "pnl", "result",
}

// WriteTradesCSV writes trades in tabular form, header first.
func WriteTradesCSV(w io.Writer, trades []models.TradeRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, trade := range trades {
		record := []string{
			trade.ID,
			trade.ChannelID,
			trade.ChannelName,
			trade.Symbol,
			string(trade.Direction),
			trade.EntryTime.Format(time.RFC3339),
			formatTime(trade.ExitTime),
			formatInt(trade.DurationSec),
			trade.EntryPrice.String(),
			formatDecimal(trade.ExitPrice),
			formatDecimal(trade.StopLoss),
			formatDecimal(trade.TakeProfit),
			trade.Size.String(),
			formatDecimal(trade.Pnl),
			string(trade.Result),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write trade %s: %w", trade.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// ReadTradesCSV parses the tabular form produced by WriteTradesCSV.
func ReadTradesCSV(r io.Reader) ([]models.TradeRecord, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("unexpected csv header with %d columns", len(header))
	}

	var trades []models.TradeRecord
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		trade, err := tradeFromRecord(record)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
	}
	return trades, nil
}

func tradeFromRecord(record []string) (models.TradeRecord, error) {
	trade := models.TradeRecord{
		ID:          record[0],
		ChannelID:   record[1],
		ChannelName: record[2],
		Symbol:      record[3],
		Direction:   models.Direction(record[4]),
		Result:      models.TradeResult(record[14]),
	}

	entryTime, err := time.Parse(time.RFC3339, record[5])
	if err != nil {
		return trade, fmt.Errorf("invalid entry_time %q: %w", record[5], err)
	}
	trade.EntryTime = entryTime

	if record[6] != "" {
		exitTime, err := time.Parse(time.RFC3339, record[6])
		if err != nil {
			return trade, fmt.Errorf("invalid exit_time %q: %w", record[6], err)
		}
		trade.ExitTime = &exitTime
	}
	if record[7] != "" {
		duration, err := strconv.ParseInt(record[7], 10, 64)
		if err != nil {
			return trade, fmt.Errorf("invalid duration_sec %q: %w", record[7], err)
		}
		trade.DurationSec = &duration
	}

	entryPrice, err := decimal.NewFromString(record[8])
	if err != nil {
		return trade, fmt.Errorf("invalid entry_price %q: %w", record[8], err)
	}
	trade.EntryPrice = entryPrice

	if trade.ExitPrice, err = parseOptionalDecimal(record[9], "exit_price"); err != nil {
		return trade, err
	}
	if trade.StopLoss, err = parseOptionalDecimal(record[10], "stop_loss"); err != nil {
		return trade, err
	}
	if trade.TakeProfit, err = parseOptionalDecimal(record[11], "take_profit"); err != nil {
		return trade, err
	}

	size, err := decimal.NewFromString(record[12])
	if err != nil {
		return trade, fmt.Errorf("invalid size %q: %w", record[12], err)
	}
	trade.Size = size

	if trade.Pnl, err = parseOptionalDecimal(record[13], "pnl"); err != nil {
		return trade, err
	}

	return trade, nil
}

func parseOptionalDecimal(value, field string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, value, err)
	}
	return &parsed, nil
}

func formatDecimal(value *decimal.Decimal) string {
	if value == nil {
		return ""
	}
	return value.String()
}

func formatTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339)
}

func formatInt(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}
