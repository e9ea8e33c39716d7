// Package youtube implements the collector's search port over the YouTube
// Data API v3.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/narrative-pipeline/pkg/collector"
	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// Quota and rate-limit reasons reported in Google API error bodies.
var throttleReasons = map[string]bool{
	"quotaExceeded":         true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
}

// Config holds YouTube client configuration.
type Config struct {
	// APIKey is the YouTube Data API key (required).
	APIKey string

	// Endpoint overrides the API base URL. Empty uses the public endpoint.
	Endpoint string
}

// Client searches YouTube for videos.
type Client struct {
	service *yt.Service
}

// New creates a YouTube search client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("youtube api key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Client{service: service}, nil
}

// Search fetches one page of video results.
func (c *Client) Search(ctx context.Context, req collector.PageRequest) (collector.Page, error) {
	call := c.service.Search.List([]string{"id", "snippet"}).
		Q(req.Query).
		Type("video").
		MaxResults(int64(req.PageSize)).
		Context(ctx)
	if req.PageToken != "" {
		call = call.PageToken(req.PageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return collector.Page{}, classify(err)
	}

	page := collector.Page{
		Items:         make([]record.Video, 0, len(resp.Items)),
		NextPageToken: resp.NextPageToken,
	}
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" {
			continue
		}
		v := record.Video{
			ID:  item.Id.VideoId,
			URL: record.WatchURL(item.Id.VideoId),
		}
		if item.Snippet != nil {
			v.Title = item.Snippet.Title
			v.PublishDate = item.Snippet.PublishedAt
		}
		page.Items = append(page.Items, v)
	}
	return page, nil
}

// classify maps Google API errors to invoker call errors.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// Untyped errors are left to the invoker's message heuristic.
		return fmt.Errorf("youtube search: %w", err)
	}

	class := invoker.ClassFatal
	status := http.StatusText(apiErr.Code)
	if apiErr.Code == http.StatusTooManyRequests {
		class = invoker.ClassThrottled
	}
	for _, item := range apiErr.Errors {
		if throttleReasons[item.Reason] {
			class = invoker.ClassThrottled
			status = item.Reason
			break
		}
	}

	return &invoker.CallError{
		Class:   class,
		Code:    apiErr.Code,
		Status:  status,
		Message: "youtube search",
		Err:     err,
	}
}
