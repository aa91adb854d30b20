package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/diarist/internal/pipeline"
	"github.com/sjawhar/diarist/internal/render"
	"github.com/sjawhar/diarist/internal/storage"
	"github.com/sjawhar/diarist/internal/transcribe"
)

type apiStoreStub struct {
	runs    map[string]storage.Run
	records map[string][]render.Record
	limit   int
}

func (s *apiStoreStub) GetRun(id string) (storage.Run, error) {
	if run, ok := s.runs[id]; ok {
		return run, nil
	}
	return storage.Run{}, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
}

func (s *apiStoreStub) ListRuns(limit int) ([]storage.Run, error) {
	s.limit = limit
	runs := make([]storage.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *apiStoreStub) GetUtterances(runID string) ([]render.Record, error) {
	return s.records[runID], nil
}

type runnerStub struct {
	got pipeline.Request
	res pipeline.Result
	err error
}

func (r *runnerStub) Run(_ context.Context, req pipeline.Request) (pipeline.Result, error) {
	r.got = req
	return r.res, r.err
}

func newAPITestHandler(t *testing.T, runner Runner) (http.Handler, *apiStoreStub, *storage.DirStore) {
	t.Helper()

	blobs := storage.NewDirStore(t.TempDir())
	ctx := context.Background()
	if err := blobs.Put(ctx, "diarized-transcription/SEG_diarized.txt", []byte("**Chair:** Order <now>.\n"), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := blobs.Put(ctx, "final-reports/SEG_Summary.txt", []byte("1. **Executive Summary**: ok"), "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	name := "Chair"
	store := &apiStoreStub{
		runs: map[string]storage.Run{
			"r1": {
				ID:           "r1",
				BaseFilename: "SEG",
				Status:       storage.RunCompleted,
				TextKey:      "diarized-transcription/SEG_diarized.txt",
				ReportKey:    "final-reports/SEG_Summary.txt",
				Warnings:     []string{},
				CreatedAt:    time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC),
			},
			"r2": {ID: "r2", Status: storage.RunFailed, Error: "no token source", Warnings: []string{}},
		},
		records: map[string][]render.Record{
			"r1": {
				{StartTime: 0.1, EndTime: 0.8, SpeakerLabel: "spk_0", SpeakerName: &name, Text: "Order <now>."},
				{StartTime: 1, EndTime: 2, SpeakerLabel: "spk_1", Text: "Thanks."},
			},
		},
	}

	return Handler(NewHub(), Deps{Runs: store, Blobs: blobs, Runner: runner, Warnings: []string{"anthropic API key not configured"}}), store, blobs
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPIRunsList(t *testing.T) {
	h, store, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/runs?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content type, got %q", got)
	}
	var runs []storage.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 2 || store.limit != 5 {
		t.Fatalf("expected 2 runs with limit 5, got %d runs limit %d", len(runs), store.limit)
	}

	if rr := serve(h, http.MethodGet, "/api/runs?limit=abc", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestAPIRunDetail(t *testing.T) {
	h, _, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/runs/r1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var run storage.Run
	if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.ID != "r1" || run.BaseFilename != "SEG" {
		t.Fatalf("unexpected run: %#v", run)
	}

	if rr := serve(h, http.MethodGet, "/api/runs/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(h, http.MethodGet, "/api/runs/bad.id", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for invalid id, got %d", rr.Code)
	}
}

func TestAPITranscript(t *testing.T) {
	h, _, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/runs/r1/transcript", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if rr.Body.String() != "**Chair:** Order <now>.\n" {
		t.Fatalf("unexpected transcript %q", rr.Body.String())
	}

	rr = serve(h, http.MethodGet, "/api/runs/r1/transcript?format=html", "")
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rr.Body.String(), "<strong>Chair:</strong>") {
		t.Fatalf("expected rendered markdown, got %q", rr.Body.String())
	}

	if rr := serve(h, http.MethodGet, "/api/runs/r2/transcript", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for failed run, got %d", rr.Code)
	}
}

func TestAPIRecords(t *testing.T) {
	h, _, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/runs/r1/records", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/jsonl" {
		t.Fatalf("unexpected content type %q", got)
	}

	lines := strings.Split(strings.TrimSuffix(rr.Body.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", rr.Body.String())
	}
	if lines[0] != `{"start_time":0.1,"end_time":0.8,"speaker_label":"spk_0","speaker_name":"Chair","text":"Order <now>."}` {
		t.Fatalf("unexpected first record %s", lines[0])
	}
	if !strings.Contains(lines[1], `"speaker_name":null`) {
		t.Fatalf("expected null speaker name, got %s", lines[1])
	}
}

func TestAPIReport(t *testing.T) {
	h, _, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/runs/r1/report", "")
	if rr.Code != http.StatusOK || rr.Body.String() != "1. **Executive Summary**: ok" {
		t.Fatalf("unexpected report response %d %q", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/api/runs/r2/report", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without report, got %d", rr.Code)
	}
}

func TestAPICreateRunFromSourceKey(t *testing.T) {
	runner := &runnerStub{res: pipeline.Result{RunID: "new-run", TextKey: "k"}}
	h, _, _ := newAPITestHandler(t, runner)

	rr := serve(h, http.MethodPost, "/api/runs", `{"source_key": "input/SEG.json", "base_filename": "SEG", "format": "deepgram"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if runner.got.SourceKey != "input/SEG.json" || runner.got.BaseFilename != "SEG" || runner.got.Format != pipeline.FormatDeepgram || runner.got.Document != nil {
		t.Fatalf("unexpected pipeline request: %#v", runner.got)
	}

	var res pipeline.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.RunID != "new-run" {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestAPICreateRunFromDocument(t *testing.T) {
	runner := &runnerStub{}
	h, _, _ := newAPITestHandler(t, runner)

	doc := `{"results": {"items": []}}`
	rr := serve(h, http.MethodPost, "/api/runs?base_filename=Hearing", doc)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if string(runner.got.Document) != doc || runner.got.BaseFilename != "Hearing" || runner.got.Format != pipeline.FormatAWS {
		t.Fatalf("unexpected pipeline request: %#v", runner.got)
	}
}

func TestAPICreateRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
		err    error
		want   int
	}{
		{name: "empty body", target: "/api/runs", body: " ", want: http.StatusBadRequest},
		{name: "bad format", target: "/api/runs?format=whisper", body: "{}", want: http.StatusBadRequest},
		{name: "structural", target: "/api/runs", body: "{}", err: fmt.Errorf("%w: no token source", transcribe.ErrStructural), want: http.StatusUnprocessableEntity},
		{name: "missing source", target: "/api/runs", body: `{"source_key": "nope.json"}`, err: fmt.Errorf("load transcript: %w", storage.ErrNotFound), want: http.StatusNotFound},
		{name: "bad key", target: "/api/runs", body: `{"source_key": "x"}`, err: storage.ErrInvalidKey, want: http.StatusBadRequest},
		{name: "other", target: "/api/runs", body: "{}", err: errors.New("disk full"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newAPITestHandler(t, &runnerStub{err: tt.err})
			rr := serve(h, http.MethodPost, tt.target, tt.body)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			var payload map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil || payload["error"] == "" {
				t.Fatalf("expected json error body, got %q", rr.Body.String())
			}
		})
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h, _, _ := newAPITestHandler(t, &runnerStub{})

	rr := serve(h, http.MethodGet, "/api/status", "")
	var payload struct {
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(payload.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", payload.Warnings)
	}
}

func TestAPIEndToEnd(t *testing.T) {
	dir := t.TempDir()
	blobs := storage.NewDirStore(filepath.Join(dir, "blobs"))
	runs, err := storage.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer func() { _ = runs.Close() }()

	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	p := pipeline.New(blobs, pipeline.Options{BlankLines: 1}, pipeline.WithRunStore(runs), pipeline.WithEvents(hub))
	h := Handler(hub, Deps{Runs: runs, Blobs: blobs, Runner: p})

	doc := `{"results": {
		"speaker_labels": [{"start_time": "0", "end_time": "5", "speaker_label": "spk_0"}],
		"items": [{"type": "pronunciation", "start_time": "0.1", "end_time": "0.4", "alternatives": [{"content": "Order"}]}]
	}}`
	rr := serve(h, http.MethodPost, "/api/runs?base_filename=E2E", doc)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res pipeline.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}

	rr = serve(h, http.MethodGet, "/api/runs/"+res.RunID+"/transcript", "")
	if rr.Body.String() != "**[UNKNOWN SPEAKER]:** Order\n" {
		t.Fatalf("unexpected transcript %q", rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/api/runs", `{"results": []}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for structural error, got %d", rr.Code)
	}

	var types []string
	for len(ch) > 0 {
		var e Event
		_ = json.Unmarshal(<-ch, &e)
		types = append(types, e.Type)
	}
	if strings.Join(types, ",") != "run_started,run_completed,run_started,run_failed" {
		t.Fatalf("unexpected events: %v", types)
	}
}
