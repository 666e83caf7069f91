package monitoring

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// MetricsSnapshot holds run journal statistics over a lookback window.
type MetricsSnapshot struct {
	// Runs (within lookback window).
	RunsTotal       int `json:"runs_total"`
	RunsComplete    int `json:"runs_complete"`
	RunsCanceled    int `json:"runs_canceled"`
	RunsFetchFailed int `json:"runs_fetch_failed"`
	RunsRunning     int `json:"runs_running"`

	// Stage outcomes across those runs.
	StageSucceeded   int            `json:"stage_succeeded"`
	StageFailed      int            `json:"stage_failed"`
	StageFailRate    float64        `json:"stage_fail_rate"`
	FailuresByKind   map[string]int `json:"failures_by_kind"`
	FailuresByStage  map[string]int `json:"failures_by_stage"`
	RetriedStages    int            `json:"retried_stages"`
	QuotaExhaustions int            `json:"quota_exhaustions"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunReader is the journal subset the collector needs.
type RunReader interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.EnrichmentRun, error)
	ListEvents(ctx context.Context, runID string) ([]model.StageEvent, error)
}

// Collector gathers statistics from the run journal.
type Collector struct {
	store RunReader
	clock clockwork.Clock
}

// NewCollector creates a new metrics collector.
func NewCollector(st RunReader) *Collector {
	return &Collector{store: st, clock: clockwork.NewRealClock()}
}

// Collect gathers a snapshot of run statistics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.clock.Now().UTC()
	snap := &MetricsSnapshot{
		FailuresByKind:  make(map[string]int),
		FailuresByStage: make(map[string]int),
		LookbackHours:   lookbackHours,
		CollectedAt:     now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.JournalStatusComplete:
			snap.RunsComplete++
		case model.JournalStatusCanceled:
			snap.RunsCanceled++
		case model.JournalStatusFetchFailed:
			snap.RunsFetchFailed++
		case model.JournalStatusRunning:
			snap.RunsRunning++
		}

		events, err := c.store.ListEvents(ctx, r.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list events %s", r.ID)
		}
		for _, ev := range events {
			if ev.Attempts > 1 {
				snap.RetriedStages++
			}
			if ev.Succeeded() {
				snap.StageSucceeded++
				continue
			}
			snap.StageFailed++
			snap.FailuresByKind[ev.ErrorKind]++
			snap.FailuresByStage[ev.Stage]++
			if ev.ErrorKind == "quota_exceeded" {
				snap.QuotaExhaustions++
			}
		}
	}

	if settled := snap.StageSucceeded + snap.StageFailed; settled > 0 {
		snap.StageFailRate = float64(snap.StageFailed) / float64(settled)
	}
	return snap, nil
}
