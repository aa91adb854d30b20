package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	"github.com/sjawhar/diarist/internal/pipeline"
	"github.com/sjawhar/diarist/internal/render"
	"github.com/sjawhar/diarist/internal/storage"
	"github.com/sjawhar/diarist/internal/transcribe"
)

const maxDocumentBytes = 64 << 20

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type RunStore interface {
	GetRun(id string) (storage.Run, error)
	ListRuns(limit int) ([]storage.Run, error)
	GetUtterances(runID string) ([]render.Record, error)
}

type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Deps are the collaborators behind the HTTP API. Warnings are configuration
// problems reported by GET /api/status.
type Deps struct {
	Runs     RunStore
	Blobs    BlobReader
	Runner   Runner
	Warnings []string
}

type runRequest struct {
	SourceKey    string `json:"source_key"`
	BaseFilename string `json:"base_filename"`
	Format       string `json:"format"`
}

func registerAPIRoutes(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("POST /api/runs", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSONError(w, status, fmt.Sprintf("read body: %v", err))
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			writeJSONError(w, http.StatusBadRequest, "empty request body")
			return
		}

		req, err := parseRunRequest(r, body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := deps.Runner.Run(r.Context(), req)
		if err != nil {
			writeJSONError(w, runErrorStatus(err), fmt.Sprintf("run pipeline: %v", err))
			return
		}
		writeJSON(w, http.StatusCreated, res)
	})

	mux.HandleFunc("GET /api/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		runs, err := deps.Runs.ListRuns(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list runs: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	mux.HandleFunc("GET /api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, deps.Runs)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	mux.HandleFunc("GET /api/runs/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, deps.Runs)
		if !ok {
			return
		}
		data, ok := readArtifact(w, r, deps.Blobs, run.TextKey, "transcript")
		if !ok {
			return
		}

		if r.URL.Query().Get("format") == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(render.HTML(string(data)))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /api/runs/{id}/records", func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, deps.Runs)
		if !ok {
			return
		}

		records, err := deps.Runs.GetUtterances(run.ID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get records: %v", err))
			return
		}

		w.Header().Set("Content-Type", "application/jsonl")
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return
			}
		}
	})

	mux.HandleFunc("GET /api/runs/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, deps.Runs)
		if !ok {
			return
		}
		data, ok := readArtifact(w, r, deps.Blobs, run.ReportKey, "report")
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		warnings := deps.Warnings
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	})
}

// parseRunRequest accepts either a JSON reference to a stored transcript or
// the transcript itself, with naming options in the query string.
func parseRunRequest(r *http.Request, body []byte) (pipeline.Request, error) {
	var ref runRequest
	if err := json.Unmarshal(body, &ref); err == nil && ref.SourceKey != "" {
		format, err := pipeline.ParseFormat(ref.Format)
		if err != nil {
			return pipeline.Request{}, err
		}
		return pipeline.Request{SourceKey: ref.SourceKey, BaseFilename: ref.BaseFilename, Format: format}, nil
	}

	q := r.URL.Query()
	format, err := pipeline.ParseFormat(q.Get("format"))
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		BaseFilename: q.Get("base_filename"),
		Document:     body,
		Format:       format,
	}, nil
}

func runErrorStatus(err error) int {
	switch {
	case errors.Is(err, transcribe.ErrStructural):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func lookupRun(w http.ResponseWriter, r *http.Request, runs RunStore) (storage.Run, bool) {
	runID := r.PathValue("id")
	if !validRunID(runID) {
		writeJSONError(w, http.StatusForbidden, "invalid run id")
		return storage.Run{}, false
	}

	run, err := runs.GetRun(runID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, fmt.Sprintf("get run: %v", err))
		return storage.Run{}, false
	}
	return run, true
}

func readArtifact(w http.ResponseWriter, r *http.Request, blobs BlobReader, key, what string) ([]byte, bool) {
	if key == "" {
		writeJSONError(w, http.StatusNotFound, what+" not available")
		return nil, false
	}

	data, err := blobs.Get(r.Context(), key)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, fmt.Sprintf("read %s: %v", what, err))
		return nil, false
	}
	return data, true
}

func validRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
