package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enrich-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_runs (
	id         TEXT PRIMARY KEY,
	dashboard  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	records    INTEGER NOT NULL DEFAULT 0,
	stages     INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS stage_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES enrichment_runs(id),
	record_id  TEXT NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	payload    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_enrichment_runs_status ON enrichment_runs(status);
CREATE INDEX IF NOT EXISTS idx_enrichment_runs_created_at ON enrichment_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_stage_events_run_id ON stage_events(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, dashboard string, records, stages int) (*model.EnrichmentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_runs (id, dashboard, status, records, stages, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, dashboard, string(model.JournalStatusRunning), records, stages, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.EnrichmentRun{
		ID:        id,
		Dashboard: dashboard,
		Status:    model.JournalStatusRunning,
		Records:   records,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.JournalStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.EnrichmentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dashboard, status, records, stages, error, created_at, updated_at FROM enrichment_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.EnrichmentRun, error) {
	query := `SELECT id, dashboard, status, records, stages, error, created_at, updated_at FROM enrichment_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Dashboard != "" {
		query += ` AND dashboard = ?`
		args = append(args, filter.Dashboard)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.EnrichmentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.StageEvent) error {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()

	var payload sql.NullString
	if len(ev.Payload) > 0 {
		payload = sql.NullString{String: string(ev.Payload), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (id, run_id, record_id, stage, status, error_kind, message, attempts, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.RecordID, ev.Stage, ev.Status, ev.ErrorKind, ev.Message, ev.Attempts, payload, ev.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert event for run %s", ev.RunID)
}

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]model.StageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, record_id, stage, status, error_kind, message, attempts, payload, created_at
		 FROM stage_events WHERE run_id = ? ORDER BY created_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", runID)
	}
	defer rows.Close()

	var events []model.StageEvent
	for rows.Next() {
		var ev model.StageEvent
		var payload sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.RecordID, &ev.Stage, &ev.Status,
			&ev.ErrorKind, &ev.Message, &ev.Attempts, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if payload.Valid {
			ev.Payload = []byte(payload.String)
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.EnrichmentRun, error) {
	var r model.EnrichmentRun
	if err := row.Scan(&r.ID, &r.Dashboard, &r.Status, &r.Records, &r.Stages, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
