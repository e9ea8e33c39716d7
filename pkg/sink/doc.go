// Package sink persists the records produced by a pipeline run.
//
// Three backends are provided:
//
//   - FileSink writes a JSON array of objects to a file
//   - RedisSink stores each record as JSON in a per-run Redis list
//   - PostgresSink inserts records into a jsonb table
//
// # Basic Usage
//
//	files := sink.NewFileSink("output/analyze_timeline.json")
//	cache := sink.NewRedisSink(redisClient, sink.RedisConfig{TTL: 24 * time.Hour})
//
//	out := sink.Multi(files, cache)
//	if err := out.Save(ctx, runID, records); err != nil {
//		return err
//	}
//
// Sinks are independent: Multi attempts every sink and joins their errors.
// There is no transactional guarantee across sinks.
//
// # Metrics
//
//   - narrative_sink_records_total{sink} - Records written
//   - narrative_sink_errors_total{sink} - Failed saves
package sink
