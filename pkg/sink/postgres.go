package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS enriched_records (
	id         BIGSERIAL PRIMARY KEY,
	run_id     TEXT        NOT NULL,
	video_id   TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS enriched_records_run_id_idx ON enriched_records (run_id);`

// PostgresSink inserts records into the enriched_records table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates the table if needed and returns a sink using pool.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool) (*PostgresSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("create enriched_records table: %w", err)
	}
	return &PostgresSink{pool: pool}, nil
}

// Save implements Sink. All rows of a run are inserted in one transaction.
func (s *PostgresSink) Save(ctx context.Context, runID string, records []*record.Fields) error {
	if err := s.save(ctx, runID, records); err != nil {
		SaveErrors.WithLabelValues("postgres").Inc()
		return err
	}
	RecordsWritten.WithLabelValues("postgres").Add(float64(len(records)))
	return nil
}

func (s *PostgresSink) save(ctx context.Context, runID string, records []*record.Fields) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		batch.Queue(
			`INSERT INTO enriched_records (run_id, video_id, data) VALUES ($1, $2, $3)`,
			runID, r.String(record.KeyVideoID), data,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load returns the records stored for a run in insertion order.
func (s *PostgresSink) Load(ctx context.Context, runID string) ([]*record.Fields, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data::text FROM enriched_records WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := make([]*record.Fields, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		f, err := record.ParseObject([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
