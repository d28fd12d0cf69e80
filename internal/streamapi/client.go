package streamapi

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dbutler-a11y/tradewatch/internal/config"
)

// ErrQuotaExhausted is returned when the authoritative API refuses further
// calls for quota reasons. Callers treat it like any other lookup failure
// but surface the distinct status so the presentation layer can fall back
// to cached data.
var ErrQuotaExhausted = errors.New("stream api quota exhausted")

// ErrNotFound is returned when a handle or video cannot be resolved.
var ErrNotFound = errors.New("stream api resource not found")

// BroadcastStatus is the authoritative live state of a single video.
type BroadcastStatus struct {
	VideoID     string
	IsLive      bool
	Title       string
	Thumbnail   string
	ViewerCount int
}

// Client talks to the video platform: the free syndication feed and the
// quota-metered data API. The client itself does no budget accounting;
// that is the caller's job.
type Client struct {
	HTTPClient  *http.Client
	APIBaseURL  string
	FeedBaseURL string
	apiKey      string
}

// NewClient creates a stream API client from monitor configuration.
func NewClient(cfg config.MonitorConfig) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: cfg.RequestTimeoutDuration(),
		},
		APIBaseURL:  strings.TrimSuffix(cfg.APIBaseURL, "/"),
		FeedBaseURL: strings.TrimSuffix(cfg.FeedBaseURL, "/"),
		apiKey:      cfg.APIKey,
	}
}

type channelListResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title                string `json:"title"`
			LiveBroadcastContent string `json:"liveBroadcastContent"`
			Thumbnails           struct {
				High struct {
					URL string `json:"url"`
				} `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		LiveStreamingDetails struct {
			ConcurrentViewers string `json:"concurrentViewers"`
			ActualEndTime     string `json:"actualEndTime"`
		} `json:"liveStreamingDetails"`
	} `json:"items"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

// ResolveHandle resolves a channel handle (e.g. "@daytrades") to a channel
// identifier. This is a metered call.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	params := url.Values{}
	params.Set("part", "id")
	params.Set("forHandle", handle)

	var response channelListResponse
	if err := c.apiGet(ctx, "/channels", params, &response); err != nil {
		return "", err
	}
	if len(response.Items) == 0 {
		return "", fmt.Errorf("handle %q: %w", handle, ErrNotFound)
	}
	return response.Items[0].ID, nil
}

// GetBroadcastStatus confirms whether a video is a live broadcast and, if
// so, its title and concurrent viewer count. This is a metered call.
func (c *Client) GetBroadcastStatus(ctx context.Context, videoID string) (*BroadcastStatus, error) {
	params := url.Values{}
	params.Set("part", "snippet,liveStreamingDetails")
	params.Set("id", videoID)

	var response videoListResponse
	if err := c.apiGet(ctx, "/videos", params, &response); err != nil {
		return nil, err
	}
	if len(response.Items) == 0 {
		return nil, fmt.Errorf("video %q: %w", videoID, ErrNotFound)
	}

	item := response.Items[0]
	status := &BroadcastStatus{
		VideoID:   item.ID,
		IsLive:    item.Snippet.LiveBroadcastContent == "live",
		Title:     item.Snippet.Title,
		Thumbnail: item.Snippet.Thumbnails.High.URL,
	}
	if viewers := item.LiveStreamingDetails.ConcurrentViewers; viewers != "" {
		if n, err := strconv.Atoi(viewers); err == nil {
			status.ViewerCount = n
		}
	}
	return status, nil
}

// LatestVideoID fetches the syndication feed for a channel and returns the
// most recent video identifier. The feed is unauthenticated and costs no
// quota, but it cannot distinguish a live broadcast from an upload.
func (c *Client) LatestVideoID(ctx context.Context, channelID string) (string, error) {
	feedURL := fmt.Sprintf("%s?channel_id=%s", c.FeedBaseURL, url.QueryEscape(channelID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("channel %q feed: %w", channelID, ErrNotFound)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("feed error (%d) for channel %s", resp.StatusCode, channelID)
	}

	var feed struct {
		Entries []struct {
			VideoID string `xml:"videoId"`
		} `xml:"entry"`
	}
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return "", fmt.Errorf("failed to parse feed: %w", err)
	}
	if len(feed.Entries) == 0 || feed.Entries[0].VideoID == "" {
		return "", fmt.Errorf("channel %q has no feed entries: %w", channelID, ErrNotFound)
	}
	return feed.Entries[0].VideoID, nil
}

func (c *Client) apiGet(ctx context.Context, path string, params url.Values, result interface{}) error {
	params.Set("key", c.apiKey)
	requestURL := c.APIBaseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResp apiErrorResponse
		if err := json.Unmarshal(respBody, &errorResp); err == nil {
			for _, apiErr := range errorResp.Error.Errors {
				if apiErr.Reason == "quotaExceeded" || apiErr.Reason == "rateLimitExceeded" {
					return ErrQuotaExhausted
				}
			}
			if errorResp.Error.Message != "" {
				return fmt.Errorf("stream api error (%d): %s", resp.StatusCode, errorResp.Error.Message)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return ErrQuotaExhausted
		}
		return fmt.Errorf("stream api error (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
