package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// memoryTradeStore is an in-memory TradeStore for correlator tests.
type memoryTradeStore struct {
	mu        sync.Mutex
	inserted  []*models.TradeRecord
	closed    []*models.TradeRecord
	openSeed  []models.TradeRecord
	insertErr error
	closeErr  error
}

func (s *memoryTradeStore) Insert(_ context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, trade)
	return nil
}

func (s *memoryTradeStore) UpdateClose(_ context.Context, trade *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	s.closed = append(s.closed, trade)
	return nil
}

func (s *memoryTradeStore) OpenTrades(_ context.Context) ([]models.TradeRecord, error) {
	return s.openSeed, nil
}

func newTestCorrelator(t *testing.T, store TradeStore) *Correlator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewCorrelator(store, config.CorrelatorConfig{BreakevenEpsilon: 0.01}, logger)
}

func enterSignal(symbol string, direction models.Direction, price float64, at time.Time) models.CandidateSignal {
	p := decimal.NewFromFloat(price)
	return models.CandidateSignal{
		SourceType: models.SourceTypeChat,
		Timestamp:  at,
		Symbol:     symbol,
		Direction:  direction,
		Action:     models.ActionEnter,
		Price:      &p,
		Confidence: 0.7,
	}
}

func exitSignal(symbol string, direction models.Direction, price float64, at time.Time) models.CandidateSignal {
	p := decimal.NewFromFloat(price)
	return models.CandidateSignal{
		SourceType: models.SourceTypeChat,
		Timestamp:  at,
		Symbol:     symbol,
		Direction:  direction,
		Action:     models.ActionExit,
		Price:      &p,
		Confidence: 0.7,
	}
}

func TestCorrelator_LongRoundTripLoss(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	entryTime := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	exitTime := entryTime.Add(12 * time.Minute)

	opened := correlator.ProcessSignal(ctx, "ch-1", "Alpha Futures", enterSignal("ES", models.DirectionLong, 5900, entryTime))
	require.NotNil(t, opened)
	assert.Equal(t, models.ResultOpen, opened.Result)
	assert.Equal(t, 1, correlator.OpenPositions())

	// Exit with no direction keyword still closes the only open ES position.
	closed := correlator.ProcessSignal(ctx, "ch-1", "Alpha Futures", exitSignal("ES", models.DirectionUnknown, 5890, exitTime))
	require.NotNil(t, closed)
	assert.Equal(t, models.ResultLoss, closed.Result)
	require.NotNil(t, closed.Pnl)
	assert.True(t, closed.Pnl.Equal(decimal.NewFromInt(-10)))
	require.NotNil(t, closed.DurationSec)
	assert.Equal(t, int64(720), *closed.DurationSec)
	assert.Equal(t, 0, correlator.OpenPositions())
	require.Len(t, store.closed, 1)
}

func TestCorrelator_ShortPnlSign(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("NQ", models.DirectionShort, 20150, at))
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("NQ", models.DirectionShort, 20100, at.Add(time.Minute)))

	require.NotNil(t, closed)
	assert.Equal(t, models.ResultWin, closed.Result)
	assert.True(t, closed.Pnl.Equal(decimal.NewFromInt(50)))
}

func TestCorrelator_BreakevenWithinEpsilon(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionLong, 5900.005, at.Add(time.Minute)))

	require.NotNil(t, closed)
	assert.Equal(t, models.ResultBreakeven, closed.Result)
}

func TestCorrelator_OrphanExitIsDropped(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("NQ", models.DirectionUnknown, 20100, at))

	assert.Nil(t, closed)
	assert.Equal(t, int64(1), correlator.Stats().DroppedExits)
	assert.Empty(t, store.closed)
}

func TestCorrelator_AmbiguousExitBothSidesOpen(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionShort, 5905, at.Add(time.Second)))

	// Both sides open: a directionless exit cannot be attributed.
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionUnknown, 5890, at.Add(time.Minute)))
	assert.Nil(t, closed)
	assert.Equal(t, int64(1), correlator.Stats().DroppedExits)
	assert.Equal(t, 2, correlator.OpenPositions())
}

func TestCorrelator_ScaleInIgnoredByDefault(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	first := correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	second := correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5905, at.Add(time.Minute)))

	require.NotNil(t, first)
	assert.Nil(t, second)
	assert.Equal(t, int64(1), correlator.Stats().IgnoredScaleIns)
	assert.Equal(t, 1, correlator.OpenPositions())
	// The original entry price is untouched.
	assert.True(t, first.EntryPrice.Equal(decimal.NewFromInt(5900)))
}

func TestCorrelator_CustomScaleInPolicy(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	var observed []models.CandidateSignal
	correlator.SetScaleInPolicy(func(open *models.TradeRecord, signal models.CandidateSignal) {
		observed = append(observed, signal)
	})

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5905, at.Add(time.Minute)))

	require.Len(t, observed, 1)
	assert.True(t, observed[0].Price.Equal(decimal.RequireFromString("5905")))
}

func TestCorrelator_EntryWithoutDirectionOrPriceIgnored(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	noDirection := enterSignal("ES", models.DirectionUnknown, 5900, at)
	assert.Nil(t, correlator.ProcessSignal(ctx, "ch-1", "", noDirection))

	noPrice := enterSignal("ES", models.DirectionLong, 5900, at)
	noPrice.Price = nil
	assert.Nil(t, correlator.ProcessSignal(ctx, "ch-1", "", noPrice))

	assert.Equal(t, 0, correlator.OpenPositions())
	assert.Empty(t, store.inserted)
}

func TestCorrelator_SeparateChannelsSeparatePositions(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	correlator.ProcessSignal(ctx, "ch-2", "", enterSignal("ES", models.DirectionLong, 5901, at))

	assert.Equal(t, 2, correlator.OpenPositions())

	// Closing channel 1 leaves channel 2 untouched.
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionUnknown, 5910, at.Add(time.Minute)))
	require.NotNil(t, closed)
	assert.Equal(t, "ch-1", closed.ChannelID)
	assert.Equal(t, 1, correlator.OpenPositions())
}

func TestCorrelator_ProcessBatchOrdersByTimestamp(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	// Exit arrives first in the slice but carries a later timestamp.
	batch := []models.CandidateSignal{
		exitSignal("ES", models.DirectionUnknown, 5910, at.Add(time.Minute)),
		enterSignal("ES", models.DirectionLong, 5900, at),
	}

	affected := correlator.ProcessBatch(ctx, "ch-1", "", batch)
	require.Len(t, affected, 2)
	assert.Equal(t, models.ResultOpen, affected[0].Result)
	assert.Equal(t, models.ResultWin, affected[1].Result)
	assert.Equal(t, 0, correlator.OpenPositions())
}

func TestCorrelator_InsertFailureLeavesNoState(t *testing.T) {
	store := &memoryTradeStore{insertErr: errors.New("connection reset")}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	opened := correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))

	assert.Nil(t, opened)
	assert.Equal(t, 0, correlator.OpenPositions())
}

func TestCorrelator_CloseFailureKeepsPositionOpen(t *testing.T) {
	store := &memoryTradeStore{closeErr: errors.New("connection reset")}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	opened := correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))
	require.NotNil(t, opened)

	// The write fails, so the position must stay open and untouched.
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionLong, 5910, at.Add(time.Minute)))
	assert.Nil(t, closed)
	assert.Equal(t, 1, correlator.OpenPositions())
	assert.Empty(t, store.closed)
	assert.Equal(t, models.ResultOpen, opened.Result)
	assert.Nil(t, opened.ExitTime)
	assert.Nil(t, opened.Pnl)

	// Once the store recovers, a retried exit closes the trade normally.
	store.mu.Lock()
	store.closeErr = nil
	store.mu.Unlock()
	closed = correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionLong, 5910, at.Add(2*time.Minute)))
	require.NotNil(t, closed)
	assert.Equal(t, models.ResultWin, closed.Result)
	assert.Equal(t, 0, correlator.OpenPositions())
	require.Len(t, store.closed, 1)
}

func TestCorrelator_RehydrateRestoresOpenPositions(t *testing.T) {
	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	store := &memoryTradeStore{
		openSeed: []models.TradeRecord{
			{
				ID:         "trade-1",
				ChannelID:  "ch-1",
				Symbol:     "ES",
				Direction:  models.DirectionLong,
				EntryTime:  at,
				EntryPrice: decimal.NewFromInt(5900),
				Size:       decimal.NewFromInt(1),
				Result:     models.ResultOpen,
			},
		},
	}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	require.NoError(t, correlator.Rehydrate(ctx))
	assert.Equal(t, 1, correlator.OpenPositions())

	// The rehydrated position closes like a freshly-opened one.
	closed := correlator.ProcessSignal(ctx, "ch-1", "", exitSignal("ES", models.DirectionUnknown, 5910, at.Add(time.Hour)))
	require.NotNil(t, closed)
	assert.Equal(t, "trade-1", closed.ID)
	assert.Equal(t, models.ResultWin, closed.Result)
}

func TestCorrelator_DefaultSizeIsOne(t *testing.T) {
	store := &memoryTradeStore{}
	correlator := newTestCorrelator(t, store)
	ctx := context.Background()

	at := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	opened := correlator.ProcessSignal(ctx, "ch-1", "", enterSignal("ES", models.DirectionLong, 5900, at))

	require.NotNil(t, opened)
	assert.True(t, opened.Size.Equal(decimal.NewFromInt(1)))
}
