package model

import (
	"encoding/json"
	"time"
)

// JournalStatus is the lifecycle state of a journaled enrichment run.
type JournalStatus string

const (
	JournalStatusRunning     JournalStatus = "running"
	JournalStatusComplete    JournalStatus = "complete"
	JournalStatusCanceled    JournalStatus = "canceled"
	JournalStatusFetchFailed JournalStatus = "fetch_failed"
)

// EnrichmentRun is the journal row for one pipeline run over a dashboard.
type EnrichmentRun struct {
	ID        string        `json:"id"`
	Dashboard string        `json:"dashboard"`
	Status    JournalStatus `json:"status"`
	Records   int           `json:"records"`
	Stages    int           `json:"stages"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StageEvent records the terminal outcome of one (record, stage) pair.
type StageEvent struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	RecordID  string          `json:"record_id"`
	Stage     string          `json:"stage"`
	Status    string          `json:"status"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Attempts  int             `json:"attempts"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Succeeded reports whether the event records a successful stage.
func (e StageEvent) Succeeded() bool {
	return e.Status == "succeeded"
}
