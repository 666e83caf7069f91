package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.JournalStatus `json:"status,omitempty"`
	Dashboard    string              `json:"dashboard,omitempty"`
	CreatedAfter time.Time           `json:"created_after,omitempty"`
	Limit        int                 `json:"limit,omitempty"`
	Offset       int                 `json:"offset,omitempty"`
}

// Store persists the enrichment run journal.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, dashboard string, records, stages int) (*model.EnrichmentRun, error)
	FinishRun(ctx context.Context, runID string, status model.JournalStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.EnrichmentRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.EnrichmentRun, error)

	// Stage events
	AppendEvent(ctx context.Context, ev *model.StageEvent) error
	ListEvents(ctx context.Context, runID string) ([]model.StageEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open returns a migrated Store for the given driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "enrich.db"
		}
		st, err = NewSQLite(dsn)
	case "postgres":
		st, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
