package enrichment

import (
	"encoding/json"
	"slices"
)

// Record is an externally supplied item to enrich. It is never modified after
// it has been fetched.
type Record struct {
	ID   string          `json:"id"`
	Text string          `json:"text"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

// Status is the lifecycle state of one (record, stage) pair.
type Status int

const (
	StatusPending Status = iota
	StatusInProgress
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInProgress:
		return "in_progress"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can occur.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrorKind classifies a failed stage.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "quota_exceeded"
	KindRateLimited   ErrorKind = "rate_limited"
	KindOtherFailure  ErrorKind = "other_failure"
)

// StageOutcome is the current state of one stage for one record. Payload is
// set only for StatusSucceeded; Kind and Message only for StatusFailed.
// Payload values are shared between snapshots and must be treated as
// read-only.
type StageOutcome struct {
	Status   Status    `json:"status"`
	Payload  any       `json:"payload,omitempty"`
	Kind     ErrorKind `json:"error_kind,omitempty"`
	Message  string    `json:"message,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
}

// Succeeded builds a successful terminal outcome.
func Succeeded(payload any, attempts int) StageOutcome {
	return StageOutcome{Status: StatusSucceeded, Payload: payload, Attempts: attempts}
}

// Failed builds a failed terminal outcome.
func Failed(kind ErrorKind, message string, attempts int) StageOutcome {
	return StageOutcome{Status: StatusFailed, Kind: kind, Message: message, Attempts: attempts}
}

// StageState pairs a configured stage name with its outcome.
type StageState struct {
	Name    string       `json:"name"`
	Outcome StageOutcome `json:"outcome"`
}

// EnrichedRecord is a record plus one outcome per configured stage, in
// configuration order.
type EnrichedRecord struct {
	Record Record       `json:"record"`
	Stages []StageState `json:"stages"`
}

// Outcome returns the outcome for the named stage.
func (r EnrichedRecord) Outcome(stage string) (StageOutcome, bool) {
	for _, st := range r.Stages {
		if st.Name == stage {
			return st.Outcome, true
		}
	}
	return StageOutcome{}, false
}

// Settled reports whether every stage of the record is terminal.
func (r EnrichedRecord) Settled() bool {
	for _, st := range r.Stages {
		if !st.Outcome.Status.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot is a complete view of every record's enrichment state at one point
// of pipeline progress. Seq increases by one with every emission of a run.
type Snapshot struct {
	Seq     int              `json:"seq"`
	Records []EnrichedRecord `json:"records"`
}

// Final reports whether every (record, stage) pair is terminal.
func (s Snapshot) Final() bool {
	for _, r := range s.Records {
		if !r.Settled() {
			return false
		}
	}
	return true
}

// Counts tallies outcomes across the snapshot by status.
func (s Snapshot) Counts() map[Status]int {
	out := make(map[Status]int, 4)
	for _, r := range s.Records {
		for _, st := range r.Stages {
			out[st.Outcome.Status]++
		}
	}
	return out
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{Seq: s.Seq, Records: make([]EnrichedRecord, len(s.Records))}
	for i, r := range s.Records {
		out.Records[i] = EnrichedRecord{
			Record: Record{ID: r.Record.ID, Text: r.Record.Text, Raw: slices.Clone(r.Record.Raw)},
			Stages: slices.Clone(r.Stages),
		}
	}
	return out
}
