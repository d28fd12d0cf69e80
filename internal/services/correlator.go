package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// TradeStore is the persistence contract the correlator depends on. The
// position-state map can be rebuilt from persisted OPEN trades at start, so
// the correlator never assumes storage is in-memory.
type TradeStore interface {
	Insert(ctx context.Context, trade *models.TradeRecord) error
	UpdateClose(ctx context.Context, trade *models.TradeRecord) error
	OpenTrades(ctx context.Context) ([]models.TradeRecord, error)
}

// ScaleInPolicy decides what to do when an ENTER signal arrives for a key
// that is already OPEN. Isolated so the policy can be swapped without
// touching the state machine.
type ScaleInPolicy func(open *models.TradeRecord, signal models.CandidateSignal)

// IgnoreScaleIns is the default policy: repeat entries are treated as
// scale-ins and ignored for lifecycle purposes. Size and average entry
// price are not reconciled.
func IgnoreScaleIns(open *models.TradeRecord, signal models.CandidateSignal) {}

type positionKey struct {
	channelID string
	symbol    string
	direction models.Direction
}

// CorrelatorStats counts the attribution failures the correlator absorbs.
type CorrelatorStats struct {
	TradesOpened    int64 `json:"trades_opened"`
	TradesClosed    int64 `json:"trades_closed"`
	DroppedExits    int64 `json:"dropped_exits"`
	IgnoredScaleIns int64 `json:"ignored_scale_ins"`
}

// Correlator matches ENTER and EXIT candidate signals into trade lifecycle
// records. State is keyed by (channel, symbol, direction); each channel's
// signals are processed in timestamp order, which guarantees at most one
// OPEN trade per key.
type Correlator struct {
	store   TradeStore
	logger  *logrus.Logger
	epsilon decimal.Decimal
	scaleIn ScaleInPolicy
	mu      sync.Mutex
	open    map[positionKey]*models.TradeRecord
	stats   CorrelatorStats
}

// NewCorrelator creates a correlator with the default scale-in policy.
func NewCorrelator(store TradeStore, cfg config.CorrelatorConfig, logger *logrus.Logger) *Correlator {
	return &Correlator{
		store:   store,
		logger:  logger,
		epsilon: decimal.NewFromFloat(cfg.BreakevenEpsilon),
		scaleIn: IgnoreScaleIns,
		open:    make(map[positionKey]*models.TradeRecord),
	}
}

// SetScaleInPolicy replaces the scale-in policy. Must be called before
// signal processing starts.
func (c *Correlator) SetScaleInPolicy(policy ScaleInPolicy) {
	if policy != nil {
		c.scaleIn = policy
	}
}

// Rehydrate rebuilds the open-position map from persisted OPEN trades.
func (c *Correlator) Rehydrate(ctx context.Context) error {
	trades, err := c.store.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open trades: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range trades {
		trade := trades[i]
		c.open[positionKey{trade.ChannelID, trade.Symbol, trade.Direction}] = &trade
	}

	c.logger.WithField("open_positions", len(trades)).Info("Rehydrated correlator state")
	return nil
}

// ProcessBatch correlates a channel's signals in source-timestamp order and
// returns the trade records that were opened or closed. Signals that cannot
// be attributed are dropped, never fatal.
func (c *Correlator) ProcessBatch(ctx context.Context, channelID, channelName string, signals []models.CandidateSignal) []*models.TradeRecord {
	ordered := make([]models.CandidateSignal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var affected []*models.TradeRecord
	for _, signal := range ordered {
		if trade := c.ProcessSignal(ctx, channelID, channelName, signal); trade != nil {
			affected = append(affected, trade)
		}
	}
	return affected
}

// ProcessSignal feeds one candidate signal through the state machine.
// It returns the affected trade record: a new OPEN record for a correlated
// entry, the finalized record for a correlated exit, or nil when the signal
// was ignored.
func (c *Correlator) ProcessSignal(ctx context.Context, channelID, channelName string, signal models.CandidateSignal) *models.TradeRecord {
	if signal.Symbol == "" {
		return nil
	}

	switch signal.Action {
	case models.ActionEnter:
		return c.handleEnter(ctx, channelID, channelName, signal)
	case models.ActionExit:
		return c.handleExit(ctx, channelID, signal)
	default:
		return nil
	}
}

// Stats returns a copy of the attribution counters.
func (c *Correlator) Stats() CorrelatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// OpenPositions returns the number of currently open positions.
func (c *Correlator) OpenPositions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

func (c *Correlator) handleEnter(ctx context.Context, channelID, channelName string, signal models.CandidateSignal) *models.TradeRecord {
	if signal.Direction == models.DirectionUnknown || !signal.HasPrice() {
		return nil
	}

	key := positionKey{channelID, signal.Symbol, signal.Direction}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.open[key]; ok {
		// ENTER while already OPEN is a scale-in.
		c.scaleIn(existing, signal)
		c.stats.IgnoredScaleIns++
		c.logger.WithFields(logrus.Fields{
			"channel_id": channelID,
			"symbol":     signal.Symbol,
			"direction":  signal.Direction,
		}).Debug("Ignoring scale-in entry for open position")
		return nil
	}

	size := decimal.NewFromInt(1)
	if signal.Size != nil && !signal.Size.IsZero() {
		size = *signal.Size
	}

	trade := &models.TradeRecord{
		ID:          uuid.New().String(),
		ChannelID:   channelID,
		ChannelName: channelName,
		Symbol:      signal.Symbol,
		Direction:   signal.Direction,
		EntryTime:   signal.Timestamp,
		EntryPrice:  *signal.Price,
		Size:        size,
		Result:      models.ResultOpen,
	}

	if err := c.store.Insert(ctx, trade); err != nil {
		c.logger.WithError(err).WithField("symbol", signal.Symbol).Error("Failed to persist opened trade")
		return nil
	}

	c.open[key] = trade
	c.stats.TradesOpened++
	return trade
}

func (c *Correlator) handleExit(ctx context.Context, channelID string, signal models.CandidateSignal) *models.TradeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	key, trade, ok := c.matchOpen(channelID, signal)
	if !ok {
		// An exit with no matching open position cannot be attributed.
		c.stats.DroppedExits++
		c.logger.WithFields(logrus.Fields{
			"channel_id": channelID,
			"symbol":     signal.Symbol,
			"direction":  signal.Direction,
		}).Debug("Dropping exit signal with no matching open position")
		return nil
	}

	if !signal.HasPrice() {
		c.stats.DroppedExits++
		c.logger.WithFields(logrus.Fields{
			"channel_id": channelID,
			"symbol":     signal.Symbol,
		}).Debug("Dropping exit signal without a usable price")
		return nil
	}

	exitTime := signal.Timestamp
	exitPrice := *signal.Price

	pnl := exitPrice.Sub(trade.EntryPrice)
	if trade.Direction == models.DirectionShort {
		pnl = trade.EntryPrice.Sub(exitPrice)
	}
	pnl = pnl.Mul(trade.Size)

	duration := int64(exitTime.Sub(trade.EntryTime) / time.Second)

	trade.ExitTime = &exitTime
	trade.ExitPrice = &exitPrice
	trade.Pnl = &pnl
	trade.DurationSec = &duration
	trade.Result = c.classify(pnl)

	if err := c.store.UpdateClose(ctx, trade); err != nil {
		// Persisted state still says OPEN, so memory must agree: revert
		// the exit fields and keep the position open. A later exit signal
		// retries the close.
		trade.ExitTime = nil
		trade.ExitPrice = nil
		trade.Pnl = nil
		trade.DurationSec = nil
		trade.Result = models.ResultOpen
		c.logger.WithError(err).WithField("trade_id", trade.ID).Error("Failed to persist closed trade, keeping position open")
		return nil
	}

	delete(c.open, key)
	c.stats.TradesClosed++
	return trade
}

// matchOpen finds the open position an exit signal refers to. An exit with
// unknown direction still closes the position when the channel holds
// exactly one open position for the symbol; with positions on both sides it
// stays ambiguous and is dropped.
func (c *Correlator) matchOpen(channelID string, signal models.CandidateSignal) (positionKey, *models.TradeRecord, bool) {
	if signal.Direction != models.DirectionUnknown {
		key := positionKey{channelID, signal.Symbol, signal.Direction}
		trade, ok := c.open[key]
		return key, trade, ok
	}

	var (
		found   positionKey
		trade   *models.TradeRecord
		matches int
	)
	for _, direction := range []models.Direction{models.DirectionLong, models.DirectionShort} {
		key := positionKey{channelID, signal.Symbol, direction}
		if open, ok := c.open[key]; ok {
			found = key
			trade = open
			matches++
		}
	}
	if matches != 1 {
		return positionKey{}, nil, false
	}
	return found, trade, true
}

func (c *Correlator) classify(pnl decimal.Decimal) models.TradeResult {
	if pnl.Abs().LessThanOrEqual(c.epsilon) {
		return models.ResultBreakeven
	}
	if pnl.IsPositive() {
		return models.ResultWin
	}
	return models.ResultLoss
}
