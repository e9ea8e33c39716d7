package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/narrative-pipeline/pkg/record"
)

type recordingSink struct {
	calls int
	runID string
	got   []*record.Fields
	err   error
}

func (s *recordingSink) Save(_ context.Context, runID string, records []*record.Fields) error {
	s.calls++
	s.runID = runID
	s.got = records
	return s.err
}

func testRecords() []*record.Fields {
	a := record.NewFields()
	a.Set(record.KeyVideoID, "a")
	a.Set("topic", "Economy")
	b := record.NewFields()
	b.Set(record.KeyVideoID, "b")
	b.Set("topic", "Sports")
	return []*record.Fields{a, b}
}

func TestMulti_SavesToAll(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}

	if err := Multi(first, nil, second).Save(context.Background(), "run-1", testRecords()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	for i, s := range []*recordingSink{first, second} {
		if s.calls != 1 {
			t.Errorf("sink %d: calls = %d, want 1", i, s.calls)
		}
		if s.runID != "run-1" {
			t.Errorf("sink %d: runID = %q, want run-1", i, s.runID)
		}
		if len(s.got) != 2 {
			t.Errorf("sink %d: got %d records, want 2", i, len(s.got))
		}
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	errA := errors.New("disk full")
	errB := errors.New("connection refused")
	failing := &recordingSink{err: errA}
	ok := &recordingSink{}
	alsoFailing := &recordingSink{err: errB}

	err := Multi(failing, ok, alsoFailing).Save(context.Background(), "run", testRecords())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Save() error = %v, want both sink errors", err)
	}
	if ok.calls != 1 {
		t.Error("sink after a failing sink was not attempted")
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := Multi().Save(context.Background(), "run", nil); err != nil {
		t.Errorf("Save() on empty Multi error = %v", err)
	}
}

func TestRunKey(t *testing.T) {
	tests := []struct {
		name        string
		key         RunKey
		wantRecords string
		wantRuns    string
	}{
		{
			name:        "default prefix",
			key:         RunKey{RunID: "abc"},
			wantRecords: "narrative:run:abc:records",
			wantRuns:    "narrative:runs",
		},
		{
			name:        "custom prefix",
			key:         RunKey{Prefix: "test", RunID: "abc"},
			wantRecords: "test:run:abc:records",
			wantRuns:    "test:runs",
		},
		{
			name:        "prefix with trailing colon",
			key:         RunKey{Prefix: "test:", RunID: "abc"},
			wantRecords: "test:run:abc:records",
			wantRuns:    "test:runs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Records(); got != tt.wantRecords {
				t.Errorf("Records() = %q, want %q", got, tt.wantRecords)
			}
			if got := tt.key.Runs(); got != tt.wantRuns {
				t.Errorf("Runs() = %q, want %q", got, tt.wantRuns)
			}
		})
	}
}
