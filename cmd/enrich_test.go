package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enrich-cli/internal/analysis"
	"github.com/sells-group/enrich-cli/internal/api"
	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/dataset"
	"github.com/sells-group/enrich-cli/internal/enrichment"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

const testStages = `
dashboards:
  - name: reviews
    records_path: /api/product-reviews
    text_field: review_text
    stages:
      - name: sentiment
        path: /api/analyze-sentiment
        result: sentiment
  - name: news
    records_path: /api/market-news
    text_field: content_summary
    stages:
      - name: summary
        path: /api/summarize-text
        result: summary
      - name: keywords
        path: /api/extract-keywords
        result: keywords
`

type enrichFixture struct {
	cfg    *config.Config
	st     store.Store
	opts   enrichOptions
	stdout bytes.Buffer
	stderr bytes.Buffer
}

func newEnrichFixture(t *testing.T, handler http.Handler) *enrichFixture {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	stagesFile := filepath.Join(dir, "stages.yaml")
	require.NoError(t, os.WriteFile(stagesFile, []byte(testStages), 0o644))

	st, err := store.Open(context.Background(), "sqlite", filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	c := &config.Config{}
	c.Pipeline.APIBaseURL = srv.URL
	c.Pipeline.RequestTimeout = 5 * time.Second
	c.Pipeline.QuotaMarker = analysis.DefaultQuotaMarker

	return &enrichFixture{cfg: c, st: st, opts: enrichOptions{StagesFile: stagesFile}}
}

func (f *enrichFixture) run(t *testing.T, dashboard string) error {
	t.Helper()
	return runEnrich(context.Background(), f.cfg, dashboard, f.st, f.opts, &f.stdout, &f.stderr)
}

func mockAPI(cfg analysis.Config) http.Handler {
	return api.NewRouter(analysis.NewService(analysis.MockProvider{}, cfg), dataset.NewLoader(""), api.Config{})
}

func TestRunEnrich_Reviews(t *testing.T) {
	f := newEnrichFixture(t, mockAPI(analysis.Config{}))

	require.NoError(t, f.run(t, "reviews"))

	out := f.stdout.String()
	assert.Contains(t, out, "RECORD")
	assert.Contains(t, out, "rev-001")
	assert.Contains(t, out, "sentiment: positive=")
	assert.Contains(t, out, "unanalyzed=0")
	assert.Contains(t, f.stderr.String(), "rev-001 sentiment: in_progress")
	assert.Contains(t, f.stderr.String(), "rev-001 sentiment: succeeded (attempts=1)")

	runs, err := f.st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.JournalStatusComplete, runs[0].Status)
	assert.Equal(t, "reviews", runs[0].Dashboard)

	events, err := f.st.ListEvents(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, events, runs[0].Records)
}

func TestRunEnrich_JSONAndXLSX(t *testing.T) {
	f := newEnrichFixture(t, mockAPI(analysis.Config{}))
	f.opts.JSON = true
	f.opts.Quiet = true
	f.opts.XLSXPath = filepath.Join(t.TempDir(), "news.xlsx")

	require.NoError(t, f.run(t, "news"))

	var snap struct {
		Seq     int `json:"seq"`
		Records []struct {
			Record struct {
				ID string `json:"id"`
			} `json:"record"`
			Stages []struct {
				Name    string `json:"name"`
				Outcome struct {
					Status string `json:"status"`
				} `json:"outcome"`
			} `json:"stages"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(f.stdout.Bytes(), &snap))
	require.NotEmpty(t, snap.Records)
	assert.Equal(t, "news-001", snap.Records[0].Record.ID)
	for _, r := range snap.Records {
		require.Len(t, r.Stages, 2)
		assert.Equal(t, "summary", r.Stages[0].Name)
		assert.Equal(t, "succeeded", r.Stages[0].Outcome.Status)
	}
	// initial, two per pair, one per settled record
	assert.Equal(t, 1+len(snap.Records)*(2*2+1), snap.Seq)

	assert.FileExists(t, f.opts.XLSXPath)
	assert.NotContains(t, f.stderr.String(), "in_progress")
}

func TestRunEnrich_QuotaExhausted(t *testing.T) {
	f := newEnrichFixture(t, mockAPI(analysis.Config{
		Limiter: analysis.NewLimiter(analysis.LimiterConfig{DailyQuota: 2}),
	}))

	require.NoError(t, f.run(t, "reviews"))

	out := f.stdout.String()
	assert.Contains(t, out, "quota_exceeded: API_QUOTA_EXCEEDED")
	assert.Contains(t, f.stderr.String(), "rev-003 sentiment: failed (quota_exceeded, attempts=1)")
}

func TestRunEnrich_FetchFailure(t *testing.T) {
	var analyzeCalls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			analyzeCalls.Add(1)
		}
		w.WriteHeader(http.StatusInternalServerError)
	})
	f := newEnrichFixture(t, handler)

	err := f.run(t, "reviews")
	require.Error(t, err)
	var fe *enrichment.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Zero(t, analyzeCalls.Load())
	assert.Empty(t, f.stdout.String())

	runs, lerr := f.st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, lerr)
	require.Len(t, runs, 1)
	assert.Equal(t, model.JournalStatusFetchFailed, runs[0].Status)
}

func TestRunEnrich_UnknownDashboard(t *testing.T) {
	f := newEnrichFixture(t, mockAPI(analysis.Config{}))

	err := f.run(t, "weather")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown dashboard "weather"`)
	assert.Contains(t, err.Error(), "reviews, news")
}

func TestRunEnrich_NoJournal(t *testing.T) {
	f := newEnrichFixture(t, mockAPI(analysis.Config{}))
	f.opts.Quiet = true

	err := runEnrich(context.Background(), f.cfg, "reviews", nil, f.opts, &f.stdout, &f.stderr)
	require.NoError(t, err)
	assert.NotContains(t, f.stderr.String(), "run ")
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	rec := func(out enrichment.StageOutcome) []enrichment.EnrichedRecord {
		return []enrichment.EnrichedRecord{{
			Record: enrichment.Record{ID: "a"},
			Stages: []enrichment.StageState{{Name: "sentiment", Outcome: out}},
		}}
	}
	p.Emit(enrichment.Snapshot{Seq: 0, Records: rec(enrichment.StageOutcome{})})
	p.Emit(enrichment.Snapshot{Seq: 1, Records: rec(enrichment.StageOutcome{Status: enrichment.StatusInProgress})})
	p.Emit(enrichment.Snapshot{Seq: 2, Records: rec(enrichment.Failed(enrichment.KindRateLimited, "retry failed: status 429", 2))})
	p.Emit(enrichment.Snapshot{Seq: 3, Records: rec(enrichment.Failed(enrichment.KindRateLimited, "retry failed: status 429", 2))})

	assert.Equal(t,
		"[1] a sentiment: in_progress\n"+
			"[2] a sentiment: failed (rate_limited, attempts=2) retry failed: status 429\n",
		buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
	assert.Equal(t, "良い...", truncate("良い商品です", 2))
}
