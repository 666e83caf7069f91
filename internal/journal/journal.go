// Package journal records enrichment runs and their terminal stage outcomes in
// a store.Store.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/enrichment"
	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/store"
)

// Observer is an enrichment.Observer that journals a run. Store failures are
// logged and swallowed; the pipeline never sees them.
type Observer struct {
	ctx       context.Context
	st        store.Store
	dashboard string
	stages    int

	mu       sync.Mutex
	run      *model.EnrichmentRun
	recorded map[pairKey]bool
	disabled bool
}

type pairKey struct {
	record string
	stage  string
}

// New creates an Observer for one run of dashboard with the given number of
// stages. The run row is created on the first snapshot.
func New(ctx context.Context, st store.Store, dashboard string, stages int) *Observer {
	return &Observer{
		ctx:       context.WithoutCancel(ctx),
		st:        st,
		dashboard: dashboard,
		stages:    stages,
		recorded:  make(map[pairKey]bool),
	}
}

// RunID returns the journaled run ID, or "" before the run row exists.
func (o *Observer) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return ""
	}
	return o.run.ID
}

// Emit appends one event for every pair that became terminal since the
// previous snapshot.
func (o *Observer) Emit(s enrichment.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ensureRun(len(s.Records)) {
		return
	}
	for _, rec := range s.Records {
		for _, st := range rec.Stages {
			key := pairKey{record: rec.Record.ID, stage: st.Name}
			if !st.Outcome.Status.Terminal() || o.recorded[key] {
				continue
			}
			o.recorded[key] = true
			o.append(rec.Record.ID, st)
		}
	}
}

// Finish settles the run status from the pipeline's returned error.
func (o *Observer) Finish(runErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.ensureRun(0) {
		return
	}

	status, msg := statusFor(runErr)
	if err := o.st.FinishRun(o.ctx, o.run.ID, status, msg); err != nil {
		zap.L().Warn("journal: finish run", zap.String("run_id", o.run.ID), zap.Error(err))
		return
	}
	o.run.Status = status
	o.run.Error = msg
}

func statusFor(err error) (model.JournalStatus, string) {
	if err == nil {
		return model.JournalStatusComplete, ""
	}
	var fe *enrichment.FetchError
	if errors.As(err, &fe) {
		return model.JournalStatusFetchFailed, fe.Error()
	}
	return model.JournalStatusCanceled, err.Error()
}

func (o *Observer) ensureRun(records int) bool {
	if o.run != nil {
		return true
	}
	if o.disabled {
		return false
	}
	run, err := o.st.CreateRun(o.ctx, o.dashboard, records, o.stages)
	if err != nil {
		zap.L().Warn("journal: create run", zap.String("dashboard", o.dashboard), zap.Error(err))
		o.disabled = true
		return false
	}
	o.run = run
	zap.L().Debug("journal: run created", zap.String("run_id", run.ID), zap.String("dashboard", o.dashboard))
	return true
}

func (o *Observer) append(recordID string, st enrichment.StageState) {
	out := st.Outcome
	ev := &model.StageEvent{
		RunID:     o.run.ID,
		RecordID:  recordID,
		Stage:     st.Name,
		Status:    out.Status.String(),
		ErrorKind: string(out.Kind),
		Message:   out.Message,
		Attempts:  out.Attempts,
	}
	if out.Payload != nil {
		b, err := json.Marshal(out.Payload)
		if err != nil {
			zap.L().Warn("journal: marshal payload", zap.String("stage", st.Name), zap.Error(err))
		} else {
			ev.Payload = b
		}
	}
	if err := o.st.AppendEvent(o.ctx, ev); err != nil {
		zap.L().Warn("journal: append event",
			zap.String("run_id", o.run.ID),
			zap.String("record_id", recordID),
			zap.String("stage", st.Name),
			zap.Error(err),
		)
	}
}
