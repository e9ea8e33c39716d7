package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/narrative-pipeline/pkg/record"
)

// FileSink writes records as an indented JSON array to a single file.
// Each Save replaces the file contents.
type FileSink struct {
	path string
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the output file path.
func (s *FileSink) Path() string {
	return s.path
}

// Save implements Sink. The file is written to a temporary name and renamed
// into place so readers never see a partial array.
func (s *FileSink) Save(ctx context.Context, runID string, records []*record.Fields) error {
	if err := s.save(ctx, records); err != nil {
		SaveErrors.WithLabelValues("file").Inc()
		return err
	}
	RecordsWritten.WithLabelValues("file").Add(float64(len(records)))
	return nil
}

func (s *FileSink) save(ctx context.Context, records []*record.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []*record.Fields{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename to %s: %w", s.path, err)
	}
	return nil
}
