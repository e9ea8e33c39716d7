package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Sternrassler/narrative-pipeline/internal/config"
	"github.com/Sternrassler/narrative-pipeline/pkg/analyzer"
	"github.com/Sternrassler/narrative-pipeline/pkg/collector"
	"github.com/Sternrassler/narrative-pipeline/pkg/gemini"
	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"github.com/Sternrassler/narrative-pipeline/pkg/logging"
	"github.com/Sternrassler/narrative-pipeline/pkg/metrics"
	"github.com/Sternrassler/narrative-pipeline/pkg/pipeline"
	"github.com/Sternrassler/narrative-pipeline/pkg/sink"
	"github.com/Sternrassler/narrative-pipeline/pkg/youtube"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	collectedFile = "target_videos.json"
	resultsFile   = "analyze_timeline.json"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "narrative-pipeline: %v\n", err)
		os.Exit(1)
	}
}

// flags holds command line overrides.
type flags struct {
	configPath string
	prompts    string
	promptKey  string
	outputDir  string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("narrative-pipeline", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Path to the YAML config file (default: $CONFIG_FILE or config.yaml)")
	fs.StringVar(&f.prompts, "prompts", "", "Path to the YAML prompts file")
	fs.StringVar(&f.promptKey, "prompt-key", "", "Prompt name to use as system instruction")
	fs.StringVar(&f.outputDir, "output-dir", "", "Directory for output files")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) {
	if f.prompts != "" {
		cfg.PromptsFile = f.prompts
	}
	if f.promptKey != "" {
		cfg.PromptKey = f.promptKey
	}
	if f.outputDir != "" {
		cfg.OutputDir = f.outputDir
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f.apply(cfg)

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
	})
	logger := logging.NewLogger("main")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	instruction, err := config.LoadPrompt(cfg.PromptsFile, cfg.PromptKey)
	if err != nil {
		logger.Warn().Err(err).Msg("Running without system instruction")
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	search, err := youtube.New(ctx, youtube.Config{
		APIKey:   cfg.YouTubeAPIKey,
		Endpoint: cfg.YouTubeEndpoint,
	})
	if err != nil {
		return err
	}
	model, err := gemini.New(ctx, gemini.Config{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.Model,
		BaseURL: cfg.GeminiBaseURL,
	})
	if err != nil {
		return err
	}

	inv := invoker.New(invoker.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		CallTimeout: cfg.CallTimeout,
	}, logging.NewLogger("invoker"))

	c := collector.New(search, inv, collector.Config{
		PageSize:          collector.MaxPageSize,
		RequestsPerSecond: cfg.SearchRPS,
	}, logging.NewLogger("collector"))

	a := analyzer.New(model, inv, analyzer.Config{
		Workers:           cfg.Workers,
		Delay:             cfg.Delay,
		SystemInstruction: instruction,
	}, logging.NewLogger("analyzer"))

	collectedOut := sink.NewFileSink(filepath.Join(cfg.OutputDir, collectedFile))
	resultsOut := sink.NewFileSink(filepath.Join(cfg.OutputDir, resultsFile))

	results, closeSinks, err := resultSinks(ctx, cfg, resultsOut)
	if err != nil {
		return err
	}
	defer closeSinks()

	p := pipeline.New(c, a, pipeline.Options{
		Queries:       cfg.NonEmptyQueries(),
		MaxPerQuery:   cfg.MaxPerQuery,
		CollectedSink: collectedOut,
		ResultSink:    results,
	}, logging.NewLogger("pipeline"))

	res, err := p.Run(ctx)
	if res != nil {
		printSummary(stdout, collectedOut, resultsOut, res)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("Run cancelled")
		}
		return err
	}
	return nil
}

// resultSinks builds the sink for enriched records: always the results file,
// plus Redis and Postgres when their URLs are configured.
func resultSinks(ctx context.Context, cfg *config.Config, file *sink.FileSink) (sink.Sink, func(), error) {
	sinks := []sink.Sink{file}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() { client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, closeAll, fmt.Errorf("connect to redis: %w", err)
		}
		sinks = append(sinks, sink.NewRedisSink(client, sink.RedisConfig{TTL: cfg.RedisTTL}))
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)

		pg, err := sink.NewPostgresSink(ctx, pool)
		if err != nil {
			return nil, closeAll, err
		}
		sinks = append(sinks, pg)
	}

	return sink.Multi(sinks...), closeAll, nil
}

func printSummary(w io.Writer, collected, results *sink.FileSink, res *pipeline.Result) {
	fmt.Fprintln(w, "\n=== Run Summary ===")
	fmt.Fprintf(w, "Run ID:     %s\n", res.RunID)
	fmt.Fprintf(w, "Collected:  %d videos -> %s\n", len(res.Collected), collected.Path())
	fmt.Fprintf(w, "Analyzed:   %d records -> %s\n", len(res.Enriched), results.Path())
	fmt.Fprintf(w, "Failed:     %d\n", len(res.Collected)-len(res.Enriched))
	fmt.Fprintf(w, "Duration:   %s\n", res.Duration.Round(time.Millisecond))
}
