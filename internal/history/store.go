// Package history persists pipeline runs, their stage events and their
// verification records in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// ErrInvalidStatus is returned for a verification record whose status is
// not PASS, FAIL or ERROR.
var ErrInvalidStatus = errors.New("invalid verification status")

// StatusRunning marks a run that has not been recorded as finished.
const StatusRunning = "running"

const schemaV1 = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	requirement  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	stage        TEXT NOT NULL DEFAULT 'DESIGN',
	iteration    INTEGER NOT NULL DEFAULT 0,
	reviews      INTEGER NOT NULL DEFAULT 0,
	project      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	finished_at  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

CREATE TABLE IF NOT EXISTS run_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	stage        TEXT NOT NULL,
	phase        TEXT NOT NULL,
	iteration    INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	duration_ms  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, id);

CREATE TABLE IF NOT EXISTS verification_records (
	run_id       TEXT NOT NULL,
	idx          INTEGER NOT NULL,
	status       TEXT NOT NULL,
	diagnostic   TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (run_id, idx)
);
`

// Scrubber masks secrets in stored text.
type Scrubber interface {
	Scrub(text string) string
}

// Run is one pipeline execution as stored.
type Run struct {
	ID          string     `json:"id"`
	Requirement string     `json:"requirement"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Iteration   int        `json:"iteration"`
	Reviews     int        `json:"reviews"`
	Project     string     `json:"project,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	Events  []pipeline.Event            `json:"events,omitempty"`
	Records []domain.VerificationRecord `json:"records,omitempty"`
}

// Finished reports whether the run has a final status.
func (r *Run) Finished() bool {
	return r.FinishedAt != nil
}

// Store is a pipeline.EventSink that also keeps final run state.
type Store struct {
	db       *sql.DB
	scrubber Scrubber
	logger   *zap.Logger
	now      func() time.Time
}

var _ pipeline.EventSink = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithScrubber masks diagnostics and errors before they are written.
func WithScrubber(s Scrubber) Option {
	return func(st *Store) {
		st.scrubber = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(st *Store) {
		if l != nil {
			st.logger = l
		}
	}
}

// Open opens the database at path, creating it and its directory when
// missing, and migrates the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schemaV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) scrub(text string) string {
	if s.scrubber == nil || text == "" {
		return text
	}
	return s.scrubber.Scrub(text)
}

// HandleEvent appends ev and advances the run's live stage and iteration.
// The run row is created on its first event.
func (s *Store) HandleEvent(ctx context.Context, ev pipeline.Event) error {
	at := ev.Time
	if at.IsZero() {
		at = s.now()
	}
	ts := at.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsertRun = `INSERT INTO runs (run_id, stage, iteration, started_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET stage = excluded.stage, iteration = excluded.iteration, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsertRun, ev.RunID, string(ev.Stage), ev.Iteration, ts, ts); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	const insertEvent = `INSERT INTO run_events (run_id, stage, phase, iteration, status, summary, error, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertEvent,
		ev.RunID,
		string(ev.Stage),
		string(ev.Phase),
		ev.Iteration,
		string(ev.Status),
		s.scrub(ev.Summary),
		s.scrub(ev.Error),
		ev.Duration.Milliseconds(),
		ts,
	); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	return tx.Commit()
}

// RecordRun stores the final state of a run together with the error Run
// returned, if any.
func (s *Store) RecordRun(ctx context.Context, state *pipeline.State, runErr error) error {
	if state == nil {
		return errors.New("state is required")
	}
	now := s.now().UnixMilli()

	var project, errText string
	if state.Spec != nil {
		project = state.Spec.ProjectName
	}
	if runErr != nil {
		errText = s.scrub(runErr.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsertRun = `INSERT INTO runs (run_id, requirement, status, stage, iteration, reviews, project, error, started_at, updated_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	requirement = excluded.requirement,
	status = excluded.status,
	stage = excluded.stage,
	iteration = excluded.iteration,
	reviews = excluded.reviews,
	project = excluded.project,
	error = excluded.error,
	updated_at = excluded.updated_at,
	finished_at = excluded.finished_at`
	if _, err := tx.ExecContext(ctx, upsertRun,
		state.RunID,
		state.Requirement,
		pipeline.Outcome(state, runErr),
		string(state.Stage),
		state.Iteration,
		state.Reviews,
		project,
		errText,
		now, now, now,
	); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	const insertRecord = `INSERT OR REPLACE INTO verification_records (run_id, idx, status, diagnostic, created_at)
VALUES (?, ?, ?, ?, ?)`
	for _, rec := range state.Records {
		if !rec.Status.Valid() {
			return fmt.Errorf("record verification %d: %w: %q", rec.Index, ErrInvalidStatus, rec.Status)
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		if _, err := tx.ExecContext(ctx, insertRecord,
			state.RunID, rec.Index, string(rec.Status), s.scrub(rec.Diagnostic), ts.UnixMilli(),
		); err != nil {
			return fmt.Errorf("record verification %d: %w", rec.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("run recorded",
		zap.String("run_id", state.RunID),
		zap.Int("records", len(state.Records)))
	return nil
}

const runColumns = `run_id, requirement, status, stage, iteration, reviews, project, error, started_at, updated_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r                          Run
		started, updated, finished int64
	)
	if err := row.Scan(&r.ID, &r.Requirement, &r.Status, &r.Stage, &r.Iteration, &r.Reviews,
		&r.Project, &r.Error, &started, &updated, &finished); err != nil {
		return nil, err
	}
	r.StartedAt = time.UnixMilli(started).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	if finished > 0 {
		t := time.UnixMilli(finished).UTC()
		r.FinishedAt = &t
	}
	return &r, nil
}

// ListRuns returns the most recent runs first, without events or records.
// A non-positive limit returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its events and records in order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	if r.Events, err = s.events(ctx, id); err != nil {
		return nil, err
	}
	if r.Records, err = s.records(ctx, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) events(ctx context.Context, id string) ([]pipeline.Event, error) {
	const q = `SELECT stage, phase, iteration, status, summary, error, duration_ms, created_at
FROM run_events WHERE run_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Event
	for rows.Next() {
		var (
			ev                    pipeline.Event
			stage, phase, status  string
			durationMS, createdAt int64
		)
		if err := rows.Scan(&stage, &phase, &ev.Iteration, &status, &ev.Summary, &ev.Error, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.RunID = id
		ev.Stage = pipeline.Stage(stage)
		ev.Phase = pipeline.Phase(phase)
		ev.Status = domain.Status(status)
		ev.Duration = time.Duration(durationMS) * time.Millisecond
		ev.Time = time.UnixMilli(createdAt).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) records(ctx context.Context, id string) ([]domain.VerificationRecord, error) {
	const q = `SELECT idx, status, diagnostic, created_at
FROM verification_records WHERE run_id = ? ORDER BY idx ASC`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []domain.VerificationRecord
	for rows.Next() {
		var (
			rec       domain.VerificationRecord
			status    string
			createdAt int64
		)
		if err := rows.Scan(&rec.Index, &status, &rec.Diagnostic, &createdAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Status = domain.Status(status)
		if !rec.Status.Valid() {
			return nil, fmt.Errorf("scan record %d: %w: %q", rec.Index, ErrInvalidStatus, status)
		}
		rec.Timestamp = time.UnixMilli(createdAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
