package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// PgxQuerier is the subset of pgxpool.Pool the repository needs. pgxmock
// satisfies it in tests.
type PgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TradeFilter narrows a trade query. Zero-valued fields are ignored.
type TradeFilter struct {
	ChannelID string
	Symbol    string
	Direction models.Direction
	Result    models.TradeResult
	From      time.Time
	To        time.Time
	Limit     int
}

// TradeRepository persists TradeRecords in PostgreSQL.
type TradeRepository struct {
	db PgxQuerier
}

func NewTradeRepository(db PgxQuerier) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, channel_id, channel_name, symbol, direction, entry_time, exit_time,
	duration_sec, entry_price, exit_price, stop_loss, take_profit, size, pnl, result`

// Insert stores a newly opened trade.
func (r *TradeRepository) Insert(ctx context.Context, trade *models.TradeRecord) error {
	query := `INSERT INTO trades (` + tradeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		trade.ID, trade.ChannelID, trade.ChannelName, trade.Symbol, string(trade.Direction),
		trade.EntryTime, trade.ExitTime, trade.DurationSec, trade.EntryPrice, trade.ExitPrice,
		trade.StopLoss, trade.TakeProfit, trade.Size, trade.Pnl, string(trade.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", trade.ID, err)
	}
	return nil
}

// UpdateClose writes the exit-side fields of a closed trade.
func (r *TradeRepository) UpdateClose(ctx context.Context, trade *models.TradeRecord) error {
	query := `UPDATE trades
		SET exit_time = $2, duration_sec = $3, exit_price = $4, pnl = $5, result = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		trade.ID, trade.ExitTime, trade.DurationSec, trade.ExitPrice, trade.Pnl, string(trade.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to close trade %s: %w", trade.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trade %s not found", trade.ID)
	}
	return nil
}

// OpenTrades returns every trade still marked OPEN, ordered by entry time.
// The correlator rehydrates its position state from this at process start.
func (r *TradeRepository) OpenTrades(ctx context.Context) ([]models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE result = 'OPEN' ORDER BY entry_time`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// Query returns trades matching the filter, most recent entries first.
func (r *TradeRepository) Query(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	var (
		conditions []string
		args       []any
	)
	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.ChannelID != "" {
		addCondition("channel_id = $%d", filter.ChannelID)
	}
	if filter.Symbol != "" {
		addCondition("symbol = $%d", filter.Symbol)
	}
	if filter.Direction != "" {
		addCondition("direction = $%d", string(filter.Direction))
	}
	if filter.Result != "" {
		addCondition("result = $%d", string(filter.Result))
	}
	if !filter.From.IsZero() {
		addCondition("entry_time >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		addCondition("entry_time <= $%d", filter.To)
	}

	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func scanTrades(rows pgx.Rows) ([]models.TradeRecord, error) {
	var trades []models.TradeRecord
	for rows.Next() {
		var (
			trade     models.TradeRecord
			direction string
			result    string
		)
		if err := rows.Scan(
			&trade.ID, &trade.ChannelID, &trade.ChannelName, &trade.Symbol, &direction,
			&trade.EntryTime, &trade.ExitTime, &trade.DurationSec, &trade.EntryPrice,
			&trade.ExitPrice, &trade.StopLoss, &trade.TakeProfit, &trade.Size, &trade.Pnl,
			&result,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trade.Direction = models.Direction(direction)
		trade.Result = models.TradeResult(result)
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trade row iteration failed: %w", err)
	}
	return trades, nil
}
