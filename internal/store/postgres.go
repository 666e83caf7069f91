package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dashboard  TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	records    INTEGER NOT NULL DEFAULT 0,
	stages     INTEGER NOT NULL DEFAULT 0,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS stage_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES enrichment_runs(id),
	record_id  TEXT NOT NULL,
	stage      TEXT NOT NULL,
	status     TEXT NOT NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	payload    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichment_runs_status ON enrichment_runs(status);
CREATE INDEX IF NOT EXISTS idx_enrichment_runs_created_at ON enrichment_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_stage_events_run_id ON stage_events(run_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, dashboard string, records, stages int) (*model.EnrichmentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_runs (id, dashboard, status, records, stages, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, dashboard, string(model.JournalStatusRunning), records, stages, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.JournalStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.EnrichmentRun, error) {
	var r model.EnrichmentRun
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, dashboard, status, records, stages, error, created_at, updated_at FROM enrichment_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Dashboard, &status, &r.Records, &r.Stages, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Status = model.JournalStatus(status)
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.EnrichmentRun, error) {
	query := `SELECT id, dashboard, status, records, stages, error, created_at, updated_at FROM enrichment_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Dashboard != "" {
		query += fmt.Sprintf(` AND dashboard = $%d`, argIdx)
		args = append(args, filter.Dashboard)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.EnrichmentRun
	for rows.Next() {
		var r model.EnrichmentRun
		var status string
		if err := rows.Scan(&r.ID, &r.Dashboard, &status, &r.Records, &r.Stages, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.JournalStatus(status)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.StageEvent) error {
	ev.ID = uuid.New().String()
	ev.CreatedAt = time.Now().UTC()

	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO stage_events (id, run_id, record_id, stage, status, error_kind, message, attempts, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.RunID, ev.RecordID, ev.Stage, ev.Status, ev.ErrorKind, ev.Message, ev.Attempts, payload, ev.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert event for run %s", ev.RunID)
}

func (s *PostgresStore) ListEvents(ctx context.Context, runID string) ([]model.StageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, record_id, stage, status, error_kind, message, attempts, payload, created_at
		 FROM stage_events WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", runID)
	}
	defer rows.Close()

	var events []model.StageEvent
	for rows.Next() {
		var ev model.StageEvent
		var payload *[]byte
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.RecordID, &ev.Stage, &ev.Status,
			&ev.ErrorKind, &ev.Message, &ev.Attempts, &payload, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		if payload != nil {
			ev.Payload = *payload
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}
