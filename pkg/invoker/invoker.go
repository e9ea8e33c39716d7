// Package invoker executes single remote calls with bounded retry on
// throttling signals.
//
// A throttled attempt is retried after BaseDelay*attempt (linear backoff);
// any other failure gives up immediately. Waits happen only between
// attempts, so with the default three attempts a call that is throttled
// every time waits 1×BaseDelay and 2×BaseDelay before the invoker reports
// "no result".
package invoker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for invoker operations.
var (
	invokerAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_invoker_attempts_total",
		Help: "Total number of remote call attempts by operation",
	}, []string{"operation"})

	invokerThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_invoker_throttles_total",
		Help: "Total number of throttled attempts by operation",
	}, []string{"operation"})

	invokerBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narrative_invoker_backoff_seconds",
		Help:    "Backoff duration before retrying a throttled call",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 90},
	}, []string{"operation"})

	invokerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narrative_invoker_failures_total",
		Help: "Total number of calls that produced no result, by operation and reason",
	}, []string{"operation", "reason"})
)

// Failure reasons reported on narrative_invoker_failures_total.
const (
	reasonFatal     = "fatal"
	reasonExhausted = "exhausted"
	reasonCancelled = "cancelled"
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// BaseDelay is the backoff unit; the wait after attempt n is n*BaseDelay.
	BaseDelay time.Duration

	// CallTimeout bounds a single attempt. Zero disables the timeout.
	CallTimeout time.Duration
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		CallTimeout: 5 * time.Minute,
	}
}

// Invoker runs remote calls with throttling-aware retry.
type Invoker struct {
	config   Config
	logger   zerolog.Logger
	classify func(error) ErrorClass
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker. Non-positive MaxAttempts falls back to 3.
func New(cfg Config, logger zerolog.Logger) *Invoker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	return &Invoker{
		config:   cfg,
		logger:   logger,
		classify: Classify,
		sleep:    sleepContext,
	}
}

// Config returns the invoker configuration.
func (inv *Invoker) Config() Config {
	return inv.config
}

// Backoff returns the wait after the given failed attempt (1-based).
func (inv *Invoker) Backoff(attempt int) time.Duration {
	return inv.config.BaseDelay * time.Duration(attempt)
}

// Invoke runs op until it succeeds, fails fatally or runs out of attempts.
// The boolean is false whenever no result was produced; the failure has
// already been logged under label.
func Invoke[T any](ctx context.Context, inv *Invoker, label string, op func(ctx context.Context) (T, error)) (T, bool) {
	var zero T

	for attempt := 1; attempt <= inv.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			invokerFailuresTotal.WithLabelValues(label, reasonCancelled).Inc()
			inv.logger.Warn().
				Str("operation", label).
				Int("attempt", attempt).
				Err(err).
				Msg("Context cancelled before attempt")
			return zero, false
		}

		inv.logger.Debug().
			Str("operation", label).
			Int("attempt", attempt).
			Msg("Invoking remote call")
		invokerAttemptsTotal.WithLabelValues(label).Inc()

		result, err := runAttempt(ctx, inv.config.CallTimeout, op)
		if err == nil {
			if attempt > 1 {
				inv.logger.Info().
					Str("operation", label).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return result, true
		}

		class := inv.classify(err)
		if class != ClassThrottled {
			invokerFailuresTotal.WithLabelValues(label, reasonFatal).Inc()
			inv.logger.Error().
				Str("operation", label).
				Int("attempt", attempt).
				Str("error_class", string(class)).
				Err(err).
				Msg("Fatal error, giving up")
			return zero, false
		}

		invokerThrottlesTotal.WithLabelValues(label).Inc()

		// No wait after the final attempt
		if attempt >= inv.config.MaxAttempts {
			break
		}

		backoff := inv.Backoff(attempt)
		invokerBackoffSeconds.WithLabelValues(label).Observe(backoff.Seconds())
		inv.logger.Warn().
			Str("operation", label).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Rate limit hit, backing off")

		if err := inv.sleep(ctx, backoff); err != nil {
			invokerFailuresTotal.WithLabelValues(label, reasonCancelled).Inc()
			inv.logger.Warn().
				Str("operation", label).
				Int("attempt", attempt).
				Msg("Context cancelled during backoff")
			return zero, false
		}
	}

	invokerFailuresTotal.WithLabelValues(label, reasonExhausted).Inc()
	inv.logger.Error().
		Str("operation", label).
		Int("max_attempts", inv.config.MaxAttempts).
		Msg("Retry attempts exhausted")
	return zero, false
}

// runAttempt runs op once under the per-call timeout.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(callCtx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
