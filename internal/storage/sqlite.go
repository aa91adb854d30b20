package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/diarist/internal/render"
	"github.com/sjawhar/diarist/internal/transcribe"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

var ErrNotFound = errors.New("not found")

type Run struct {
	ID             string     `json:"id"`
	BaseFilename   string     `json:"base_filename"`
	SourceKey      string     `json:"source_key"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	UtteranceCount int        `json:"utterance_count"`
	SpeakerCount   int        `json:"speaker_count"`
	TextKey        string     `json:"text_key,omitempty"`
	RecordsKey     string     `json:"records_key,omitempty"`
	ReportKey      string     `json:"report_key,omitempty"`
	Warnings       []string   `json:"warnings"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunOutput is what a completed run produced.
type RunOutput struct {
	TextKey        string
	RecordsKey     string
	UtteranceCount int
	SpeakerCount   int
	Warnings       []string
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "diarist.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			base_filename TEXT NOT NULL,
			source_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			utterance_count INTEGER NOT NULL DEFAULT 0,
			speaker_count INTEGER NOT NULL DEFAULT 0,
			text_key TEXT NOT NULL DEFAULT '',
			records_key TEXT NOT NULL DEFAULT '',
			report_key TEXT NOT NULL DEFAULT '',
			warnings TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			finished_at TEXT
		);
	`); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS utterances (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker_label TEXT NOT NULL,
			speaker_name TEXT,
			start_time REAL NOT NULL,
			end_time REAL NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY(run_id, seq),
			FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create utterances table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS report_requests (
			run_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create report_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)"); err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateRun(id, baseFilename, sourceKey string, createdAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("run id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO runs(id, base_filename, source_key, status, created_at) VALUES(?, ?, ?, ?, ?)`,
		id,
		baseFilename,
		sourceKey,
		RunRunning,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(id string, out RunOutput, finishedAt time.Time) error {
	warnings, err := encodeWarnings(out.Warnings)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, text_key = ?, records_key = ?, utterance_count = ?, speaker_count = ?, warnings = ?, finished_at = ?
		 WHERE id = ?`,
		RunCompleted,
		out.TextKey,
		out.RecordsKey,
		out.UtteranceCount,
		out.SpeakerCount,
		warnings,
		finishedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) FailRun(id, reason string, finishedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		RunFailed,
		reason,
		finishedAt.UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *SQLiteStore) SetReport(id, reportKey string) error {
	res, err := s.db.Exec(`UPDATE runs SET report_key = ? WHERE id = ?`, reportKey, id)
	if err != nil {
		return fmt.Errorf("set report for run %s: %w", id, err)
	}
	return requireRow(res, id)
}

// AppendUtterances stores the reconstructed utterances of a run in order, all
// or nothing.
func (s *SQLiteStore) AppendUtterances(runID string, utterances []transcribe.Utterance, names transcribe.SpeakerMap) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin utterances tx for run %s: %w", runID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq) + 1, 0) FROM utterances WHERE run_id = ?`, runID).Scan(&next); err != nil {
		return fmt.Errorf("query next seq for run %s: %w", runID, err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO utterances(run_id, seq, speaker_label, speaker_name, start_time, end_time, text) VALUES(?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare utterance insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, u := range utterances {
		var name sql.NullString
		if n, ok := names.Name(u.SpeakerLabel); ok {
			name = sql.NullString{String: n, Valid: true}
		}
		if _, err := stmt.Exec(runID, next+i, u.SpeakerLabel, name, u.StartTime, u.EndTime, u.Text); err != nil {
			return fmt.Errorf("append utterance for run %s: %w", runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit utterances for run %s: %w", runID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *SQLiteStore) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]Run, 0, 16)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs rows: %w", err)
	}
	return runs, nil
}

func (s *SQLiteStore) GetUtterances(runID string) ([]render.Record, error) {
	rows, err := s.db.Query(
		`SELECT start_time, end_time, speaker_label, speaker_name, text
		 FROM utterances
		 WHERE run_id = ?
		 ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query utterances for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]render.Record, 0, 64)
	for rows.Next() {
		var rec render.Record
		var name sql.NullString
		if err := rows.Scan(&rec.StartTime, &rec.EndTime, &rec.SpeakerLabel, &name, &rec.Text); err != nil {
			return nil, fmt.Errorf("scan utterance for run %s: %w", runID, err)
		}
		if name.Valid {
			n := name.String
			rec.SpeakerName = &n
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate utterance rows for run %s: %w", runID, err)
	}
	return records, nil
}

func (s *SQLiteStore) ClaimReportRequest(runID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO report_requests(run_id, prompt_hash) VALUES(?, ?)`,
		runID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim report request for run %s: %w", runID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim report rows affected: %w", err)
	}

	return rows > 0, nil
}

const runColumns = `id, base_filename, source_key, status, error, utterance_count, speaker_count,
	text_key, records_key, report_key, warnings, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var warnings, createdAt string
	var finishedAt sql.NullString
	if err := row.Scan(
		&run.ID, &run.BaseFilename, &run.SourceKey, &run.Status, &run.Error,
		&run.UtteranceCount, &run.SpeakerCount,
		&run.TextKey, &run.RecordsKey, &run.ReportKey,
		&warnings, &createdAt, &finishedAt,
	); err != nil {
		return Run{}, err
	}

	if err := json.Unmarshal([]byte(warnings), &run.Warnings); err != nil {
		return Run{}, fmt.Errorf("decode warnings for run %s: %w", run.ID, err)
	}
	if run.Warnings == nil {
		run.Warnings = []string{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse run %s created_at: %w", run.ID, err)
	}
	run.CreatedAt = parsed

	if finishedAt.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse run %s finished_at: %w", run.ID, err)
		}
		run.FinishedAt = &parsed
	}

	return run, nil
}

func encodeWarnings(warnings []string) (string, error) {
	if warnings == nil {
		warnings = []string{}
	}
	data, err := json.Marshal(warnings)
	if err != nil {
		return "", fmt.Errorf("encode warnings: %w", err)
	}
	return string(data), nil
}

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for run %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}
