// Package enrichment drives records through an ordered list of remote analysis
// stages, one call at a time, and publishes a full snapshot of progress after
// every state change.
//
// Scheduling is strictly sequential: stage N+1 of a record starts only after
// stage N settles, and record K+1 starts only after record K settles. A failed
// stage never stops the run.
package enrichment

import (
	"context"
	"iter"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

// Options holds the fixed pauses between calls.
type Options struct {
	InterStageDelay  time.Duration
	InterRecordDelay time.Duration
}

// Pipeline applies the same ordered stages to every record.
type Pipeline struct {
	stages []StageSpec
	runner StageRunner
	opts   Options
}

// New creates a Pipeline.
func New(stages []StageSpec, runner StageRunner, opts Options) *Pipeline {
	return &Pipeline{stages: stages, runner: runner, opts: opts}
}

// Stages returns the configured stages in order.
func (p *Pipeline) Stages() []StageSpec {
	return p.stages
}

// Enrich fetches the records from src and runs them. A fetch failure aborts
// before any stage runs or any snapshot is emitted and is returned as
// *FetchError.
func (p *Pipeline) Enrich(ctx context.Context, src RecordSource, obs Observer) (Snapshot, error) {
	records, err := src.Fetch(ctx)
	if err != nil {
		return Snapshot{}, asFetchError(err)
	}
	return p.Run(ctx, records, obs)
}

// Run drives every record through every stage and returns the last emitted
// snapshot. The returned error is non-nil only when ctx is cancelled; pairs
// not yet started are then left pending, and a pair interrupted mid-call stays
// in progress unless its call had already succeeded.
func (p *Pipeline) Run(ctx context.Context, records []Record, obs Observer) (Snapshot, error) {
	state := newRunState(records, p.stages)
	em := newEmitter(obs)
	last := em.emit(state)

	log := zap.L().With(zap.Int("records", len(records)), zap.Int("stages", len(p.stages)))
	log.Info("enrichment run started")
	start := time.Now()

	for i, rec := range records {
		for j, spec := range p.stages {
			if err := ctx.Err(); err != nil {
				return p.stopped(last, err)
			}

			if err := state.advance(i, j, StageOutcome{Status: StatusInProgress}); err != nil {
				return last, err
			}
			last = em.emit(state)
			if err := ctx.Err(); err != nil {
				return p.stopped(last, err)
			}

			outcome := p.runner.RunStage(ctx, rec, spec)
			if err := ctx.Err(); err != nil {
				// A failure seen after cancellation is not trusted; the pair
				// stays in progress. A success is real and is kept.
				if outcome.Status == StatusSucceeded {
					if aerr := state.advance(i, j, outcome); aerr != nil {
						return last, aerr
					}
					last = em.emit(state)
				}
				return p.stopped(last, err)
			}
			if err := state.advance(i, j, outcome); err != nil {
				return last, err
			}
			last = em.emit(state)

			logStage(rec, spec, state.records[i].Stages[j].Outcome)

			if j < len(p.stages)-1 {
				if err := resilience.Sleep(ctx, p.opts.InterStageDelay); err != nil {
					return p.stopped(last, err)
				}
			}
		}

		last = em.emit(state)

		if i < len(records)-1 {
			if err := resilience.Sleep(ctx, p.opts.InterRecordDelay); err != nil {
				return p.stopped(last, err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return p.stopped(last, err)
	}

	counts := last.Counts()
	log.Info("enrichment run complete",
		zap.Int("succeeded", counts[StatusSucceeded]),
		zap.Int("failed", counts[StatusFailed]),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
	)
	return last, nil
}

// Snapshots runs the records lazily: each snapshot is produced when the
// consumer asks for the next one. Breaking out of the loop cancels the run.
func (p *Pipeline) Snapshots(ctx context.Context, records []Record) iter.Seq[Snapshot] {
	return func(yield func(Snapshot) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		_, _ = p.Run(ctx, records, ObserverFunc(func(s Snapshot) {
			if stopped {
				return
			}
			if !yield(s) {
				stopped = true
				cancel()
			}
		}))
	}
}

func (p *Pipeline) stopped(last Snapshot, err error) (Snapshot, error) {
	zap.L().Warn("enrichment run stopped", zap.Int("seq", last.Seq), zap.Error(err))
	return last, err
}

func logStage(rec Record, spec StageSpec, out StageOutcome) {
	fields := []zap.Field{
		zap.String("record_id", rec.ID),
		zap.String("stage", spec.Name),
		zap.Stringer("status", out.Status),
		zap.Int("attempts", out.Attempts),
	}
	if out.Status == StatusFailed {
		zap.L().Warn("stage failed", append(fields,
			zap.String("error_kind", string(out.Kind)),
			zap.String("message", out.Message),
		)...)
		return
	}
	zap.L().Debug("stage succeeded", fields...)
}
