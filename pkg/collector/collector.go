package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// MaxPageSize is the largest page the search API returns per request.
const MaxPageSize = 50

const searchOperation = "search"

// Prometheus metrics for collection.
var (
	collectorQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_collector_queries_total",
		Help: "Total search queries executed by outcome",
	}, []string{"outcome"})

	collectorPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_collector_pages_total",
		Help: "Total search result pages fetched",
	})

	collectorVideosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_collector_videos_total",
		Help: "Total unique videos collected",
	})

	collectorDuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "narrative_collector_duplicates_total",
		Help: "Total videos discarded as duplicates across queries",
	})
)

// PageRequest is a single paginated search request.
type PageRequest struct {
	Query     string
	PageToken string
	PageSize  int
}

// Page is one page of search results.
type Page struct {
	Items         []record.Video
	NextPageToken string
}

// SearchAPI is the contract the search backend must implement.
type SearchAPI interface {
	// Search fetches a single page of video results for a query.
	Search(ctx context.Context, req PageRequest) (Page, error)
}

// Config holds collector configuration.
type Config struct {
	// PageSize caps the page size requested from the API (at most MaxPageSize).
	PageSize int

	// RequestsPerSecond limits search requests across all queries. Zero disables the limit.
	RequestsPerSecond float64
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: MaxPageSize,
	}
}

// Collector runs search queries concurrently and deduplicates their results.
type Collector struct {
	api     SearchAPI
	invoker *invoker.Invoker
	config  Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New creates a collector.
func New(api SearchAPI, inv *invoker.Invoker, cfg Config, logger zerolog.Logger) *Collector {
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Collector{
		api:     api,
		invoker: inv,
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// SearchOne pages through the results of a single query until maxResults
// videos are collected or no pages remain. On any unrecoverable error the
// query yields an empty slice; partial results are discarded.
func (c *Collector) SearchOne(ctx context.Context, query string, maxResults int) []record.Video {
	videos := make([]record.Video, 0)
	if maxResults <= 0 {
		return videos
	}

	c.logger.Info().Str("query", query).Int("max_results", maxResults).Msg("Searching")

	pageToken := ""
	for len(videos) < maxResults {
		req := PageRequest{
			Query:     query,
			PageToken: pageToken,
			PageSize:  min(c.config.PageSize, maxResults-len(videos)),
		}

		page, ok := c.fetchPage(ctx, req)
		if !ok {
			collectorQueriesTotal.WithLabelValues("failed").Inc()
			c.logger.Error().
				Str("query", query).
				Int("discarded", len(videos)).
				Msg("Search failed, query yields no results")
			return make([]record.Video, 0)
		}
		collectorPagesTotal.Inc()

		for _, v := range page.Items {
			if len(videos) >= maxResults {
				break
			}
			videos = append(videos, v)
		}

		// An empty page with a token would otherwise loop forever
		pageToken = page.NextPageToken
		if pageToken == "" || len(page.Items) == 0 {
			break
		}
	}

	collectorQueriesTotal.WithLabelValues("ok").Inc()
	c.logger.Info().Str("query", query).Int("found", len(videos)).Msg("Finished query")
	return videos
}

// fetchPage issues one page request through the rate limiter and invoker.
func (c *Collector) fetchPage(ctx context.Context, req PageRequest) (Page, bool) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn().Err(err).Str("query", req.Query).Msg("Rate limiter wait aborted")
			return Page{}, false
		}
	}

	return invoker.Invoke(ctx, c.invoker, searchOperation, func(ctx context.Context) (Page, error) {
		page, err := c.api.Search(ctx, req)
		if err != nil {
			return Page{}, fmt.Errorf("search %q: %w", req.Query, err)
		}
		return page, nil
	})
}

// Collect runs all queries concurrently, one goroutine per query, and
// returns the union of their results unique by video id. Output order
// follows first insertion, which depends on query completion order.
func (c *Collector) Collect(ctx context.Context, queries []string, maxPerQuery int) []record.Video {
	start := time.Now()
	set := newVideoSet()

	var g errgroup.Group
	for _, query := range queries {
		if query == "" {
			c.logger.Warn().Msg("Skipping empty search query")
			continue
		}
		g.Go(func() error {
			videos := c.SearchOne(ctx, query, maxPerQuery)
			added := set.addAll(videos)
			collectorVideosTotal.Add(float64(added))
			collectorDuplicatesTotal.Add(float64(len(videos) - added))
			return nil
		})
	}
	// Workers never return errors; failures are absorbed per query
	_ = g.Wait()

	videos := set.list()
	c.logger.Info().
		Int("queries", len(queries)).
		Int("unique_videos", len(videos)).
		Dur("duration", time.Since(start)).
		Msg("Collection complete")
	return videos
}

// videoSet is an insertion-ordered set of videos keyed by id, safe for
// concurrent use.
type videoSet struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []record.Video
}

func newVideoSet() *videoSet {
	return &videoSet{seen: make(map[string]struct{})}
}

// addAll inserts videos whose id is not yet present and reports how many were added.
func (s *videoSet) addAll(videos []record.Video) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, v := range videos {
		if _, dup := s.seen[v.ID]; dup {
			continue
		}
		s.seen[v.ID] = struct{}{}
		s.order = append(s.order, v)
		added++
	}
	return added
}

func (s *videoSet) list() []record.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(make([]record.Video, 0, len(s.order)), s.order...)
}
