package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds RedisSink configuration.
type RedisConfig struct {
	// KeyPrefix namespaces keys (default "narrative")
	KeyPrefix string

	// TTL expires a run's records. Zero keeps them indefinitely.
	TTL time.Duration
}

// RedisSink stores each run's records as JSON strings in a Redis list.
type RedisSink struct {
	redis  *redis.Client
	config RedisConfig
}

// NewRedisSink creates a Redis-backed sink.
func NewRedisSink(redisClient *redis.Client, cfg RedisConfig) *RedisSink {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisSink{
		redis:  redisClient,
		config: cfg,
	}
}

// Save implements Sink. The run's list is replaced atomically.
func (s *RedisSink) Save(ctx context.Context, runID string, records []*record.Fields) error {
	if err := s.save(ctx, runID, records); err != nil {
		SaveErrors.WithLabelValues("redis").Inc()
		return err
	}
	RecordsWritten.WithLabelValues("redis").Add(float64(len(records)))
	return nil
}

func (s *RedisSink) save(ctx context.Context, runID string, records []*record.Fields) error {
	key := RunKey{Prefix: s.config.KeyPrefix, RunID: runID}

	values := make([]any, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		values = append(values, data)
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, key.Records())
	if len(values) > 0 {
		pipe.RPush(ctx, key.Records(), values...)
		if s.config.TTL > 0 {
			pipe.Expire(ctx, key.Records(), s.config.TTL)
		}
	}
	pipe.LRem(ctx, key.Runs(), 0, runID)
	pipe.LPush(ctx, key.Runs(), runID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store run %s in redis: %w", runID, err)
	}
	return nil
}

// Load reads back the records saved for a run.
func (s *RedisSink) Load(ctx context.Context, runID string) ([]*record.Fields, error) {
	key := RunKey{Prefix: s.config.KeyPrefix, RunID: runID}

	raw, err := s.redis.LRange(ctx, key.Records(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	out := make([]*record.Fields, 0, len(raw))
	for _, item := range raw {
		f, err := record.ParseObject([]byte(item))
		if err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Runs returns the saved run ids, newest first.
func (s *RedisSink) Runs(ctx context.Context) ([]string, error) {
	key := RunKey{Prefix: s.config.KeyPrefix}
	ids, err := s.redis.LRange(ctx, key.Runs(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	return ids, nil
}
