package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLite_CreateAndGetRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "news", 5, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.JournalStatusRunning, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "news", got.Dashboard)
	assert.Equal(t, 5, got.Records)
	assert.Equal(t, 3, got.Stages)
	assert.Equal(t, model.JournalStatusRunning, got.Status)
	assert.Empty(t, got.Error)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_FinishRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "reviews", 0, 1)
	require.NoError(t, err)

	require.NoError(t, st.FinishRun(ctx, run.ID, model.JournalStatusFetchFailed, "records fetch failed: status 500"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JournalStatusFetchFailed, got.Status)
	assert.Equal(t, "records fetch failed: status 500", got.Error)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestSQLite_FinishRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.FinishRun(context.Background(), "missing", model.JournalStatusComplete, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListRuns_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateRun(ctx, "reviews", 8, 1)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "news", 5, 3)
	require.NoError(t, err)
	_, err = st.CreateRun(ctx, "news", 5, 3)
	require.NoError(t, err)
	require.NoError(t, st.FinishRun(ctx, a.ID, model.JournalStatusComplete, ""))

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	news, err := st.ListRuns(ctx, RunFilter{Dashboard: "news"})
	require.NoError(t, err)
	assert.Len(t, news, 2)

	complete, err := st.ListRuns(ctx, RunFilter{Status: model.JournalStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, a.ID, complete[0].ID)

	limited, err := st.ListRuns(ctx, RunFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	offset, err := st.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, offset, 1)

	future, err := st.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)

	past, err := st.ListRuns(ctx, RunFilter{CreatedAfter: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Len(t, past, 3)
}

func TestSQLite_Events(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "news", 1, 2)
	require.NoError(t, err)

	payload, err := json.Marshal(model.SummaryResult{Summary: "要約"})
	require.NoError(t, err)

	ok := &model.StageEvent{RunID: run.ID, RecordID: "news-001", Stage: "summary", Status: "succeeded", Attempts: 1, Payload: payload}
	require.NoError(t, st.AppendEvent(ctx, ok))
	assert.NotEmpty(t, ok.ID)
	assert.False(t, ok.CreatedAt.IsZero())

	failed := &model.StageEvent{RunID: run.ID, RecordID: "news-001", Stage: "keywords", Status: "failed",
		ErrorKind: "rate_limited", Message: "retry failed: status 429", Attempts: 2}
	require.NoError(t, st.AppendEvent(ctx, failed))

	events, err := st.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "summary", events[0].Stage)
	assert.True(t, events[0].Succeeded())
	assert.JSONEq(t, `{"summary":"要約"}`, string(events[0].Payload))

	assert.Equal(t, "keywords", events[1].Stage)
	assert.False(t, events[1].Succeeded())
	assert.Equal(t, "rate_limited", events[1].ErrorKind)
	assert.Equal(t, 2, events[1].Attempts)
	assert.Nil(t, events[1].Payload)

	none, err := st.ListEvents(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "open.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = st.CreateRun(ctx, "reviews", 1, 1)
	require.NoError(t, err)

	_, err = Open(ctx, "mysql", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
