package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dbutler-a11y/tradewatch/internal/cache"
	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/database"
	"github.com/dbutler-a11y/tradewatch/internal/models"
	"github.com/dbutler-a11y/tradewatch/internal/streamapi"
)

// StreamLookup is the external video platform contract: a free syndication
// probe plus two metered authoritative calls. *streamapi.Client satisfies it.
type StreamLookup interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
	LatestVideoID(ctx context.Context, channelID string) (string, error)
	GetBroadcastStatus(ctx context.Context, videoID string) (*streamapi.BroadcastStatus, error)
}

// LiveNotifier is told when a watched channel transitions to live.
type LiveNotifier interface {
	NotifyChannelLive(ctx context.Context, state models.ChannelLiveState)
}

// WatchedChannel identifies one channel the monitor polls.
type WatchedChannel struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Name   string `json:"name"`
}

// LiveStatusReport is the sorted result of one monitor refresh.
type LiveStatusReport struct {
	Channels  []models.ChannelLiveState `json:"channels"`
	LiveCount int                       `json:"live_count"`
	CheckedAt time.Time                 `json:"checked_at"`
	Stale     bool                      `json:"stale"`
}

const liveSnapshotKey = "monitor:live_snapshot"

// MonitorService polls channels for live-broadcast status under a finite
// quota budget. The free feed probe runs first; only a channel with a
// candidate video spends budget on the authoritative confirmation.
type MonitorService struct {
	lookup      StreamLookup
	resolutions *cache.ResolutionCache
	redis       *database.RedisClient
	notifier    LiveNotifier
	logger      *logrus.Logger
	cfg         config.MonitorConfig

	mu        sync.Mutex
	quotaUsed int
	wasLive   map[string]bool
}

// NewMonitorService creates the monitor. redis and notifier may be nil; the
// snapshot cache and live alerts are then simply skipped.
func NewMonitorService(lookup StreamLookup, resolutions *cache.ResolutionCache, redis *database.RedisClient, cfg config.MonitorConfig, logger *logrus.Logger) *MonitorService {
	return &MonitorService{
		lookup:      lookup,
		resolutions: resolutions,
		redis:       redis,
		cfg:         cfg,
		logger:      logger,
		wasLive:     make(map[string]bool),
	}
}

// SetNotifier wires the live-transition notifier. Must be called before
// polling starts.
func (m *MonitorService) SetNotifier(notifier LiveNotifier) {
	m.notifier = notifier
}

// QuotaUsed returns the number of metered calls spent so far.
func (m *MonitorService) QuotaUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quotaUsed
}

// ResolutionStats exposes the handle cache counters for diagnostics.
func (m *MonitorService) ResolutionStats() cache.ResolutionCacheStats {
	return m.resolutions.Stats()
}

// RefreshAll checks every channel concurrently, joins the results, and
// returns them sorted live-first, then by descending viewer count; ties
// keep their prior relative order. One channel's failure never aborts the
// batch.
func (m *MonitorService) RefreshAll(ctx context.Context, channels []WatchedChannel) *LiveStatusReport {
	states := make([]models.ChannelLiveState, len(channels))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for i, channel := range channels {
		group.Go(func() error {
			callCtx, cancel := context.WithTimeout(groupCtx, 3*m.cfg.RequestTimeoutDuration())
			defer cancel()
			states[i] = m.CheckLive(callCtx, channel)
			return nil
		})
	}
	// Workers only record their state slot; no error escapes.
	_ = group.Wait()

	sort.SliceStable(states, func(i, j int) bool {
		if states[i].IsLive != states[j].IsLive {
			return states[i].IsLive
		}
		return states[i].ViewerCount > states[j].ViewerCount
	})

	report := &LiveStatusReport{
		Channels:  states,
		CheckedAt: time.Now(),
	}
	for _, state := range states {
		if state.IsLive {
			report.LiveCount++
		}
	}

	m.announceTransitions(ctx, states)
	m.storeSnapshot(ctx, report)

	return report
}

// CheckLive runs the two-tier probe for a single channel. Every failure
// path degrades to a not-live state with the error recorded; quota
// exhaustion is additionally flagged so callers can fall back to cached
// data instead of an error page.
func (m *MonitorService) CheckLive(ctx context.Context, channel WatchedChannel) models.ChannelLiveState {
	state := models.ChannelLiveState{
		ChannelID:     channel.ID,
		Handle:        channel.Handle,
		LastCheckedAt: time.Now(),
	}

	channelID, err := m.resolveChannel(ctx, channel)
	if err != nil {
		m.recordFailure(&state, "resolve", err)
		return state
	}
	state.ResolvedID = channelID
	if state.ChannelID == "" {
		state.ChannelID = channelID
	}

	// Free probe: the syndication feed costs no quota but can only tell
	// us the newest video, not whether it is live.
	videoID, err := m.lookup.LatestVideoID(ctx, channelID)
	if err != nil {
		if !errors.Is(err, streamapi.ErrNotFound) {
			m.recordFailure(&state, "feed", err)
		}
		return state
	}
	state.LastStreamID = videoID

	// Paid confirm: one budgeted call for the candidate video.
	if err := m.spendQuota(); err != nil {
		state.QuotaExhausted = true
		state.CheckError = err.Error()
		return state
	}
	status, err := m.lookup.GetBroadcastStatus(ctx, videoID)
	if err != nil {
		m.recordFailure(&state, "confirm", err)
		return state
	}

	state.IsLive = status.IsLive
	state.Title = status.Title
	state.ViewerCount = status.ViewerCount
	return state
}

// CachedSnapshot returns the last stored refresh result, marked stale.
// Used when the quota is exhausted and the caller prefers old data over an
// error.
func (m *MonitorService) CachedSnapshot(ctx context.Context) (*LiveStatusReport, bool) {
	if m.redis == nil {
		return nil, false
	}
	data, err := m.redis.Get(ctx, liveSnapshotKey)
	if err != nil {
		return nil, false
	}
	var report LiveStatusReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		m.logger.WithError(err).Warn("Failed to decode cached live snapshot")
		return nil, false
	}
	report.Stale = true
	return &report, true
}

func (m *MonitorService) resolveChannel(ctx context.Context, channel WatchedChannel) (string, error) {
	if channel.ID != "" {
		return channel.ID, nil
	}
	if channel.Handle == "" {
		return "", errors.New("channel has neither id nor handle")
	}
	if id, ok := m.resolutions.Get(channel.Handle); ok {
		return id, nil
	}

	if err := m.spendQuota(); err != nil {
		return "", err
	}
	id, err := m.lookup.ResolveHandle(ctx, channel.Handle)
	if err != nil {
		return "", err
	}

	// Handle resolution is stable for the process lifetime, so the entry
	// is cached without eviction. Concurrent resolvers writing the same
	// handle produce the same identifier.
	m.resolutions.Set(channel.Handle, id)
	return id, nil
}

func (m *MonitorService) spendQuota() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.DailyQuota > 0 && m.quotaUsed >= m.cfg.DailyQuota {
		return streamapi.ErrQuotaExhausted
	}
	m.quotaUsed++
	return nil
}

func (m *MonitorService) recordFailure(state *models.ChannelLiveState, stage string, err error) {
	state.CheckError = err.Error()
	if errors.Is(err, streamapi.ErrQuotaExhausted) {
		state.QuotaExhausted = true
	}
	m.logger.WithError(err).WithFields(logrus.Fields{
		"handle": state.Handle,
		"stage":  stage,
	}).Debug("Live check degraded to not-live")
}

func (m *MonitorService) announceTransitions(ctx context.Context, states []models.ChannelLiveState) {
	if m.notifier == nil {
		return
	}
	// Collect transitions under the lock, notify after releasing it. The
	// notifier may hit the network or call back into the service, and the
	// lock also guards the quota counter.
	var announce []models.ChannelLiveState
	m.mu.Lock()
	for _, state := range states {
		key := state.ChannelID
		if key == "" {
			key = state.Handle
		}
		if state.IsLive && !m.wasLive[key] {
			announce = append(announce, state)
		}
		m.wasLive[key] = state.IsLive
	}
	m.mu.Unlock()

	for _, state := range announce {
		m.notifier.NotifyChannelLive(ctx, state)
	}
}

func (m *MonitorService) storeSnapshot(ctx context.Context, report *LiveStatusReport) {
	if m.redis == nil {
		return
	}
	// A quota-starved refresh must not overwrite the last complete
	// snapshot; that snapshot is exactly what the fallback path serves.
	for _, state := range report.Channels {
		if state.QuotaExhausted {
			return
		}
	}
	data, err := json.Marshal(report)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to encode live snapshot")
		return
	}
	if err := m.redis.Set(ctx, liveSnapshotKey, string(data), m.cfg.SnapshotTTLDuration()); err != nil {
		m.logger.WithError(err).Warn("Failed to cache live snapshot")
	}
}
