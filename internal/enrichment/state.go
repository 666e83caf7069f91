package enrichment

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// runState is the driver's private table of outcomes, one per (record, stage).
// Only the driver goroutine touches it.
type runState struct {
	records []EnrichedRecord
}

func newRunState(records []Record, stages []StageSpec) *runState {
	s := &runState{records: make([]EnrichedRecord, len(records))}
	for i, rec := range records {
		states := make([]StageState, len(stages))
		for j, spec := range stages {
			states[j] = StageState{Name: spec.Name, Outcome: StageOutcome{Status: StatusPending}}
		}
		s.records[i] = EnrichedRecord{Record: rec, Stages: states}
	}
	return s
}

// advance moves pair (i, j) forward. Backward or sideways moves are rejected;
// a runner result that is not terminal is recorded as a failure so the pair
// still settles.
func (s *runState) advance(i, j int, next StageOutcome) error {
	cur := &s.records[i].Stages[j].Outcome
	if cur.Status == StatusInProgress && !next.Status.Terminal() {
		next = Failed(KindOtherFailure, fmt.Sprintf("stage runner returned non-terminal status %s", next.Status), next.Attempts)
	}
	if next.Status <= cur.Status || cur.Status.Terminal() {
		return eris.Errorf("illegal transition %s -> %s for record %s stage %s",
			cur.Status, next.Status, s.records[i].Record.ID, s.records[i].Stages[j].Name)
	}
	*cur = next
	return nil
}

func (s *runState) snapshot(seq int) Snapshot {
	return Snapshot{Seq: seq, Records: s.records}.clone()
}
