// Package metrics documents the pipeline's Prometheus metrics and serves them.
// All metrics are defined in their respective packages (invoker, collector,
// analyzer, pipeline, sink) to maintain modularity and avoid circular
// dependencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Invoker Metrics (pkg/invoker):
//   - narrative_invoker_attempts_total{operation} (Counter): Call attempts by operation (search, analyze)
//   - narrative_invoker_throttles_total{operation} (Counter): Attempts classified as throttled
//   - narrative_invoker_backoff_seconds{operation} (Histogram): Linear backoff waits
//   - narrative_invoker_failures_total{operation, reason} (Counter): Calls without result (fatal, exhausted, cancelled)
//
// Collector Metrics (pkg/collector):
//   - narrative_collector_queries_total{outcome} (Counter): Queries by outcome (ok, failed)
//   - narrative_collector_pages_total (Counter): Search pages fetched
//   - narrative_collector_videos_total (Counter): Unique videos collected
//   - narrative_collector_duplicates_total (Counter): Videos discarded as duplicates
//
// Analyzer Metrics (pkg/analyzer):
//   - narrative_analyzer_results_total{outcome} (Counter): Analyses by outcome (ok, failed)
//   - narrative_analyzer_call_duration_seconds (Histogram): Model call duration including retries
//
// Pipeline Metrics (pkg/pipeline):
//   - narrative_pipeline_runs_total{status} (Counter): Runs by status (ok, error)
//   - narrative_pipeline_run_duration_seconds (Histogram): End-to-end run duration
//   - narrative_pipeline_last_run_records{stage} (Gauge): Records in the last run (collected, enriched)
//
// Sink Metrics (pkg/sink):
//   - narrative_sink_records_total{sink} (Counter): Records written by sink (file, redis, postgres)
//   - narrative_sink_errors_total{sink} (Counter): Failed saves by sink
//
// Example Prometheus Queries:
//
//   # Throttle Rate
//   rate(narrative_invoker_throttles_total[5m]) / rate(narrative_invoker_attempts_total[5m])
//
//   # Analysis Success Ratio
//   sum(rate(narrative_analyzer_results_total{outcome="ok"}[1h])) /
//   sum(rate(narrative_analyzer_results_total[1h]))
//
//   # Duplicate Share
//   rate(narrative_collector_duplicates_total[1h]) /
//   (rate(narrative_collector_videos_total[1h]) + rate(narrative_collector_duplicates_total[1h]))
//
//   # P95 Analysis Latency
//   histogram_quantile(0.95, rate(narrative_analyzer_call_duration_seconds_bucket[5m]))
