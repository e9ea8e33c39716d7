package analyzer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/narrative-pipeline/pkg/invoker"
	"github.com/Sternrassler/narrative-pipeline/pkg/record"
	"github.com/rs/zerolog"
)

// fakeModel answers per media URI.
type fakeModel struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	delay     time.Duration
	requests  []Request
	inFlight  int
	maxFlight int
}

func (m *fakeModel) Generate(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.inFlight++
	if m.inFlight > m.maxFlight {
		m.maxFlight = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err, ok := m.errs[req.MediaURI]; ok {
		return "", err
	}
	if resp, ok := m.responses[req.MediaURI]; ok {
		return resp, nil
	}
	return `{"topic":"default"}`, nil
}

func (m *fakeModel) callsFor(uri string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.MediaURI == uri {
			n++
		}
	}
	return n
}

func video(id string) record.Video {
	return record.Video{ID: id, URL: record.WatchURL(id), Title: "Title " + id, PublishDate: "2024-01-01T00:00:00Z"}
}

func newTestAnalyzer(model Model, cfg Config) *Analyzer {
	inv := invoker.New(invoker.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}, zerolog.Nop())
	return New(model, inv, cfg, zerolog.Nop())
}

func TestAnalyzeOne_BuildsRequestAndMerges(t *testing.T) {
	v := video("abc")
	model := &fakeModel{responses: map[string]string{
		v.URL: "```json\n{\"topic\":\"Campus\",\"conflict\":\"verbal\",\"title\":\"AI title\"}\n```",
	}}
	a := newTestAnalyzer(model, Config{Workers: 1, SystemInstruction: "You are an analyst."})

	got, ok := a.AnalyzeOne(context.Background(), v)
	if !ok {
		t.Fatal("AnalyzeOne() returned no result")
	}

	if len(model.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(model.requests))
	}
	req := model.requests[0]
	if req.MediaURI != v.URL || req.MIMEType != VideoMIMEType {
		t.Errorf("media = %q %q", req.MediaURI, req.MIMEType)
	}
	if req.Prompt != "Analyze this video titled: 'Title abc'" {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if req.SystemInstruction != "You are an analyst." || !req.JSONResponse {
		t.Errorf("SystemInstruction = %q, JSONResponse = %v", req.SystemInstruction, req.JSONResponse)
	}

	if got.String("topic") != "Campus" || got.String("conflict") != "verbal" {
		t.Errorf("analysis fields missing: %v", got.Keys())
	}
	if got.String(record.KeyTitle) != "AI title" {
		t.Errorf("title = %q, want analysis value to win", got.String(record.KeyTitle))
	}
	if got.String(record.KeyVideoID) != "abc" || got.String(record.KeyPublishDate) != v.PublishDate {
		t.Error("collected fields not preserved")
	}
}

func TestAnalyzeOne_UnparseableResponse(t *testing.T) {
	v := video("bad")
	model := &fakeModel{responses: map[string]string{v.URL: "I cannot analyze this video."}}
	a := newTestAnalyzer(model, Config{Workers: 1})

	if _, ok := a.AnalyzeOne(context.Background(), v); ok {
		t.Error("expected no result for unparseable response")
	}
	if n := model.callsFor(v.URL); n != 1 {
		t.Errorf("calls = %d, want 1 (parse failures are not retried)", n)
	}
}

func TestAnalyzeOne_NonObjectResponse(t *testing.T) {
	v := video("arr")
	model := &fakeModel{responses: map[string]string{v.URL: `[{"topic":"x"}]`}}
	a := newTestAnalyzer(model, Config{Workers: 1})

	if _, ok := a.AnalyzeOne(context.Background(), v); ok {
		t.Error("expected no result for array response")
	}
}

func TestAnalyzeOne_ThrottledThenSuccess(t *testing.T) {
	v := video("t")
	model := &throttleOnceModel{}
	a := newTestAnalyzer(model, Config{Workers: 1})

	got, ok := a.AnalyzeOne(context.Background(), v)
	if !ok {
		t.Fatal("expected result after throttled retry")
	}
	if got.String("topic") != "recovered" {
		t.Errorf("topic = %q", got.String("topic"))
	}
	if model.calls != 2 {
		t.Errorf("calls = %d, want 2", model.calls)
	}
}

type throttleOnceModel struct{ calls int }

func (m *throttleOnceModel) Generate(ctx context.Context, req Request) (string, error) {
	m.calls++
	if m.calls == 1 {
		return "", &invoker.CallError{Class: invoker.ClassThrottled, Code: 429, Status: "RESOURCE_EXHAUSTED"}
	}
	return `{"topic":"recovered"}`, nil
}

func TestAnalyze_DropsFailures(t *testing.T) {
	videos := []record.Video{video("1"), video("2"), video("3")}
	model := &fakeModel{errs: map[string]error{
		videos[1].URL: invoker.Fatal(errors.New("404 video not found")),
	}}
	a := newTestAnalyzer(model, Config{Workers: 2})

	results := a.Analyze(context.Background(), videos)

	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	var got []string
	for _, r := range results {
		got = append(got, r.String(record.KeyVideoID))
	}
	sort.Strings(got)
	if got[0] != "1" || got[1] != "3" {
		t.Errorf("ids = %v, want [1 3]", got)
	}
	if n := model.callsFor(videos[1].URL); n != 1 {
		t.Errorf("fatal video called %d times, want 1", n)
	}
}

func TestAnalyze_PacingSerializesWithSingleWorker(t *testing.T) {
	videos := []record.Video{video("1"), video("2"), video("3"), video("4")}
	model := &fakeModel{}
	delay := 30 * time.Millisecond
	a := newTestAnalyzer(model, Config{Workers: 1, Delay: delay})

	start := time.Now()
	results := a.Analyze(context.Background(), videos)
	elapsed := time.Since(start)

	if len(results) != len(videos) {
		t.Errorf("len = %d, want %d", len(results), len(videos))
	}
	if floor := time.Duration(len(videos)) * delay; elapsed < floor {
		t.Errorf("elapsed %v, want at least %v", elapsed, floor)
	}
	if model.maxFlight != 1 {
		t.Errorf("max concurrent calls = %d, want 1", model.maxFlight)
	}
}

func TestAnalyze_WorkerPoolBoundsConcurrency(t *testing.T) {
	var videos []record.Video
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		videos = append(videos, video(id))
	}
	model := &fakeModel{delay: 20 * time.Millisecond}
	a := newTestAnalyzer(model, Config{Workers: 3})

	results := a.Analyze(context.Background(), videos)

	if len(results) != len(videos) {
		t.Errorf("len = %d, want %d", len(results), len(videos))
	}
	if model.maxFlight > 3 {
		t.Errorf("max concurrent calls = %d, want <= 3", model.maxFlight)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	a := newTestAnalyzer(&fakeModel{}, DefaultConfig())
	results := a.Analyze(context.Background(), nil)
	if results == nil || len(results) != 0 {
		t.Errorf("Analyze(nil) = %v, want empty slice", results)
	}
}

func TestAnalyze_CancelledStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{}
	a := newTestAnalyzer(model, Config{Workers: 1})
	results := a.Analyze(ctx, []record.Video{video("1"), video("2")})

	if len(results) != 0 {
		t.Errorf("len = %d, want 0", len(results))
	}
	if len(model.requests) != 0 {
		t.Errorf("requests = %d, want 0", len(model.requests))
	}
}

func TestNew_Defaults(t *testing.T) {
	a := New(&fakeModel{}, invoker.New(invoker.DefaultConfig(), zerolog.Nop()), Config{Workers: 0, Delay: -1}, zerolog.Nop())
	if a.config.Workers != 1 {
		t.Errorf("Workers = %d, want 1", a.config.Workers)
	}
	if a.config.Delay != 0 {
		t.Errorf("Delay = %v, want 0", a.config.Delay)
	}
}

func TestStripFences(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
		`  {"a":1}  `:             `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFences(in); got != want {
			t.Errorf("stripFences(%q) = %q, want %q", in, got, want)
		}
	}
}
