// Package analyzer enriches collected videos with narrative analysis from a
// multimodal model, pacing requests to stay within the model's quota.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// VideoMIMEType is the media type sent with video references.
const VideoMIMEType = "video/mp4"

const analyzeOperation = "analyze"

// Prometheus metrics for analysis.
var (
	analyzerResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_analyzer_results_total",
		Help: "Total analyzed videos by outcome",
	}, []string{"outcome"})

	analyzerCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "narrative_analyzer_call_duration_seconds",
		Help:    "Duration of a single video analysis including retries",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

// Request is a single multimodal analysis request.
type Request struct {
	MediaURI          string
	MIMEType          string
	Prompt            string
	SystemInstruction string
	JSONResponse      bool
}

// Model is the contract the analysis backend must implement.
type Model interface {
	// Generate sends the request and returns the raw response text.
	Generate(ctx context.Context, req Request) (string, error)
}

// Config holds analyzer configuration.
type Config struct {
	// Workers bounds the number of concurrent model calls. Values below 1 mean 1.
	Workers int

	// Delay is the pause after each completed call before its worker slot is released.
	Delay time.Duration

	// SystemInstruction is sent with every request.
	SystemInstruction string
}

// DefaultConfig returns the default analyzer configuration: calls are
// serialized with a ten second gap.
func DefaultConfig() Config {
	return Config{
		Workers: 1,
		Delay:   10 * time.Second,
	}
}

// Analyzer runs model analysis over collected videos.
type Analyzer struct {
	model   Model
	invoker *invoker.Invoker
	config  Config
	logger  zerolog.Logger
	pause   func(ctx context.Context, d time.Duration)
}

// New creates an analyzer.
func New(model Model, inv *invoker.Invoker, cfg Config, logger zerolog.Logger) *Analyzer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Analyzer{
		model:   model,
		invoker: inv,
		config:  cfg,
		logger:  logger,
		pause:   pauseContext,
	}
}

// Prompt returns the instruction text sent alongside a video.
func Prompt(title string) string {
	return fmt.Sprintf("Analyze this video titled: '%s'", title)
}

// AnalyzeOne sends a single video to the model and merges the parsed
// response onto the video's fields. The boolean is false when the model
// call failed or the response was not a JSON object.
func (a *Analyzer) AnalyzeOne(ctx context.Context, video record.Video) (*record.Fields, bool) {
	start := time.Now()
	defer func() {
		analyzerCallDuration.Observe(time.Since(start).Seconds())
	}()

	req := Request{
		MediaURI:          video.URL,
		MIMEType:          VideoMIMEType,
		Prompt:            Prompt(video.Title),
		SystemInstruction: a.config.SystemInstruction,
		JSONResponse:      true,
	}

	analysis, ok := invoker.Invoke(ctx, a.invoker, analyzeOperation, func(ctx context.Context) (*record.Fields, error) {
		text, err := a.model.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("analyze %s: %w", video.URL, err)
		}
		fields, err := record.ParseObject([]byte(stripFences(text)))
		if err != nil {
			return nil, invoker.Fatal(fmt.Errorf("parse analysis for %s: %w", video.URL, err))
		}
		return fields, nil
	})
	if !ok {
		analyzerResultsTotal.WithLabelValues("failed").Inc()
		a.logger.Error().
			Str("video_id", video.ID).
			Str("url", video.URL).
			Msg("Analysis failed, dropping video")
		return nil, false
	}

	merged := record.Merge(video, analysis)
	analyzerResultsTotal.WithLabelValues("ok").Inc()

	topic := merged.String("topic")
	if topic == "" {
		topic = "Unknown Topic"
	}
	a.logger.Info().
		Str("video_id", video.ID).
		Str("topic", topic).
		Msg("Analysis succeeded")
	return merged, true
}

// Analyze enriches all videos using a bounded worker pool. After each
// completed call the worker holds its slot for the configured delay, so
// with a single worker calls are serialized with a fixed gap. Only
// successful analyses are returned, in completion order.
func (a *Analyzer) Analyze(ctx context.Context, videos []record.Video) []*record.Fields {
	start := time.Now()

	var (
		mu      sync.Mutex
		results = make([]*record.Fields, 0, len(videos))
	)

	var g errgroup.Group
	g.SetLimit(a.config.Workers)

	for i, video := range videos {
		if ctx.Err() != nil {
			a.logger.Warn().
				Int("skipped", len(videos)-i).
				Msg("Analysis cancelled, not dispatching further videos")
			break
		}
		g.Go(func() error {
			enriched, ok := a.AnalyzeOne(ctx, video)
			if ok {
				mu.Lock()
				results = append(results, enriched)
				mu.Unlock()
			}
			a.pause(ctx, a.config.Delay)
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info().
		Int("videos", len(videos)).
		Int("enriched", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Analysis complete")
	return results
}

// stripFences removes markdown code fences some models wrap JSON output in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func pauseContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
