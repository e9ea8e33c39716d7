package sink

import (
	"context"
	"errors"

	"github.com/Sternrassler/narrative-pipeline/pkg/record"
)

// Sink receives the records of one pipeline run.
type Sink interface {
	// Save persists records under the given run id.
	Save(ctx context.Context, runID string, records []*record.Fields) error
}

// multiSink writes to several sinks.
type multiSink []Sink

// Multi returns a Sink that saves to every given sink. Nil sinks are skipped.
// All sinks are attempted; their errors are joined.
func Multi(sinks ...Sink) Sink {
	var out multiSink
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Save implements Sink.
func (m multiSink) Save(ctx context.Context, runID string, records []*record.Fields) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, runID, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
