// Package pipeline runs one collection and analysis pass end to end.
//
// A run collects videos for every query, optionally saves the collected list,
// analyzes the collected videos and saves the enriched records. Analysis
// never starts before collection has finished. Per-query and per-video
// failures only shrink the result set; a run fails only when a sink fails or
// the context is cancelled.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/logging"
	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/Sternrassler/narrative-pipeline/pkg/sink"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_pipeline_runs_total",
			Help: "Total number of pipeline runs by status",
		},
		[]string{"status"}, // "ok", "error"
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "narrative_pipeline_run_duration_seconds",
			Help:    "End-to-end pipeline run duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2.3h
		},
	)

	lastRunRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "narrative_pipeline_last_run_records",
			Help: "Number of records in the last run by stage",
		},
		[]string{"stage"}, // "collected", "enriched"
	)
)

// Collector gathers unique videos for a set of queries.
type Collector interface {
	Collect(ctx context.Context, queries []string, maxPerQuery int) []record.Video
}

// Analyzer enriches videos with model output.
type Analyzer interface {
	Analyze(ctx context.Context, videos []record.Video) []*record.Fields
}

// Options configures a pipeline run.
type Options struct {
	// Queries are the search queries to collect for.
	Queries []string

	// MaxPerQuery caps the videos collected per query.
	MaxPerQuery int

	// CollectedSink receives the collected list before analysis (optional).
	CollectedSink sink.Sink

	// ResultSink receives the enriched records (optional).
	ResultSink sink.Sink
}

// Result summarizes a completed run.
type Result struct {
	RunID     string
	Collected []record.Video
	Enriched  []*record.Fields
	StartedAt time.Time
	Duration  time.Duration
}

// Pipeline sequences collection, analysis and persistence.
type Pipeline struct {
	collector Collector
	analyzer  Analyzer
	options   Options
	logger    zerolog.Logger
	newRunID  func() string
}

// New creates a pipeline.
func New(c Collector, a Analyzer, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		collector: c,
		analyzer:  a,
		options:   opts,
		logger:    logger,
		newRunID:  func() string { return uuid.New().String() },
	}
}

// Run executes one pass. The returned Result is non-nil even when err is set
// and holds whatever the run produced before failing.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		RunID:     p.newRunID(),
		StartedAt: time.Now().UTC(),
		Collected: []record.Video{},
		Enriched:  []*record.Fields{},
	}
	logger := logging.WithRun(p.logger, res.RunID)

	err := p.run(ctx, res, logger)

	res.Duration = time.Since(res.StartedAt)
	runDuration.Observe(res.Duration.Seconds())
	lastRunRecords.WithLabelValues("collected").Set(float64(len(res.Collected)))
	lastRunRecords.WithLabelValues("enriched").Set(float64(len(res.Enriched)))

	if err != nil {
		runsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Dur("duration", res.Duration).Msg("Run failed")
		return res, err
	}

	runsTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Int("collected", len(res.Collected)).
		Int("enriched", len(res.Enriched)).
		Dur("duration", res.Duration).
		Msg("Run finished")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result, logger zerolog.Logger) error {
	logger.Info().
		Strs("queries", p.options.Queries).
		Int("max_per_query", p.options.MaxPerQuery).
		Msg("Run started")

	res.Collected = p.collector.Collect(ctx, p.options.Queries, p.options.MaxPerQuery)
	if res.Collected == nil {
		res.Collected = []record.Video{}
	}
	logger.Info().Int("count", len(res.Collected)).Msg("Collection finished")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("collection interrupted: %w", err)
	}

	if p.options.CollectedSink != nil {
		if err := p.options.CollectedSink.Save(ctx, res.RunID, record.VideosToFields(res.Collected)); err != nil {
			return fmt.Errorf("save collected videos: %w", err)
		}
		logger.Debug().Msg("Collected videos saved")
	}

	res.Enriched = p.analyzer.Analyze(ctx, res.Collected)
	if res.Enriched == nil {
		res.Enriched = []*record.Fields{}
	}
	logger.Info().
		Int("count", len(res.Enriched)).
		Int("failed", len(res.Collected)-len(res.Enriched)).
		Msg("Analysis finished")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}

	if p.options.ResultSink != nil {
		if err := p.options.ResultSink.Save(ctx, res.RunID, res.Enriched); err != nil {
			return fmt.Errorf("save enriched records: %w", err)
		}
		logger.Debug().Msg("Enriched records saved")
	}
	return nil
}
