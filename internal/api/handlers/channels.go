package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/services"
)

// ChannelHandler reports live status for the configured watch list.
type ChannelHandler struct {
	monitor  *services.MonitorService
	channels []services.WatchedChannel
	logger   *logrus.Logger
}

func NewChannelHandler(monitor *services.MonitorService, watchList []string, logger *logrus.Logger) *ChannelHandler {
	return &ChannelHandler{
		monitor:  monitor,
		channels: parseWatchList(watchList),
		logger:   logger,
	}
}

// LiveStatus handles GET /api/v1/channels/live. When the daily quota is
// already spent the last stored snapshot is returned with its stale flag
// set rather than an error.
func (h *ChannelHandler) LiveStatus(c *gin.Context) {
	if len(h.channels) == 0 {
		c.JSON(http.StatusOK, gin.H{"channels": []services.WatchedChannel{}, "live_count": 0})
		return
	}

	report := h.monitor.RefreshAll(c.Request.Context(), h.channels)
	if quotaExhausted(report) {
		if cached, ok := h.monitor.CachedSnapshot(c.Request.Context()); ok {
			h.logger.Warn("Quota exhausted, serving cached live snapshot")
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	c.JSON(http.StatusOK, report)
}

func quotaExhausted(report *services.LiveStatusReport) bool {
	for _, state := range report.Channels {
		if state.QuotaExhausted {
			return true
		}
	}
	return false
}

// parseWatchList accepts either @handles or raw channel IDs, with an
// optional display name after a pipe: "@somechannel|Some Channel".
func parseWatchList(entries []string) []services.WatchedChannel {
	channels := make([]services.WatchedChannel, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name := ""
		if idx := strings.Index(entry, "|"); idx >= 0 {
			name = strings.TrimSpace(entry[idx+1:])
			entry = strings.TrimSpace(entry[:idx])
		}

		channel := services.WatchedChannel{Name: name}
		if strings.HasPrefix(entry, "@") {
			channel.Handle = entry
		} else {
			channel.ID = entry
		}
		if channel.Name == "" {
			channel.Name = strings.TrimPrefix(entry, "@")
		}
		channels = append(channels, channel)
	}
	return channels
}
