// Package export renders enrichment snapshots as tables and spreadsheets.
package export

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/enrich-cli/internal/enrichment"
	"github.com/sells-group/enrich-cli/internal/model"
)

// OutcomeHeader names the columns of OutcomeRows.
var OutcomeHeader = []string{"record_id", "stage", "status", "error_kind", "message", "attempts", "payload"}

// SummaryHeader names the columns of SummaryRows.
var SummaryHeader = []string{"stage", "succeeded", "failed", "pending", "quota_exceeded", "rate_limited", "other_failure"}

// OutcomeRows flattens a snapshot to one row per (record, stage) pair in
// record-major order.
func OutcomeRows(s enrichment.Snapshot) [][]string {
	var rows [][]string
	for _, rec := range s.Records {
		for _, st := range rec.Stages {
			out := st.Outcome
			rows = append(rows, []string{
				rec.Record.ID,
				st.Name,
				out.Status.String(),
				string(out.Kind),
				out.Message,
				strconv.Itoa(out.Attempts),
				payloadString(out.Payload),
			})
		}
	}
	return rows
}

// SummaryRows tallies each stage's outcomes in configuration order.
func SummaryRows(s enrichment.Snapshot) [][]string {
	type tally struct {
		succeeded, failed, pending int
		kinds                      map[enrichment.ErrorKind]int
	}
	var order []string
	byStage := make(map[string]*tally)
	for _, rec := range s.Records {
		for _, st := range rec.Stages {
			t, ok := byStage[st.Name]
			if !ok {
				t = &tally{kinds: make(map[enrichment.ErrorKind]int)}
				byStage[st.Name] = t
				order = append(order, st.Name)
			}
			switch st.Outcome.Status {
			case enrichment.StatusSucceeded:
				t.succeeded++
			case enrichment.StatusFailed:
				t.failed++
				t.kinds[st.Outcome.Kind]++
			default:
				t.pending++
			}
		}
	}

	rows := make([][]string, 0, len(order))
	for _, name := range order {
		t := byStage[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(t.succeeded),
			strconv.Itoa(t.failed),
			strconv.Itoa(t.pending),
			strconv.Itoa(t.kinds[enrichment.KindQuotaExceeded]),
			strconv.Itoa(t.kinds[enrichment.KindRateLimited]),
			strconv.Itoa(t.kinds[enrichment.KindOtherFailure]),
		})
	}
	return rows
}

// Distribution counts a sentiment stage's outcomes per bucket: "positive",
// "neutral", "negative", and "unanalyzed" for anything not succeeded.
type Distribution struct {
	Positive   int `json:"positive"`
	Neutral    int `json:"neutral"`
	Negative   int `json:"negative"`
	Unanalyzed int `json:"unanalyzed"`
}

// SentimentDistribution tallies the named stage across the snapshot.
func SentimentDistribution(s enrichment.Snapshot, stage string) Distribution {
	var d Distribution
	for _, rec := range s.Records {
		out, ok := rec.Outcome(stage)
		if !ok {
			continue
		}
		res, isSentiment := out.Payload.(model.SentimentResult)
		if out.Status != enrichment.StatusSucceeded || !isSentiment {
			d.Unanalyzed++
			continue
		}
		switch model.SentimentBucket(res.Sentiment) {
		case "positive":
			d.Positive++
		case "negative":
			d.Negative++
		default:
			d.Neutral++
		}
	}
	return d
}

func payloadString(p any) string {
	if p == nil {
		return ""
	}
	if s, ok := p.(string); ok {
		return s
	}
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

// WriteXLSX saves the snapshot to path as a workbook with an "outcomes" sheet
// and a per-stage "summary" sheet.
func WriteXLSX(s enrichment.Snapshot, path string) error {
	f := xlsx.NewFile()
	if err := addSheet(f, "outcomes", OutcomeHeader, OutcomeRows(s)); err != nil {
		return err
	}
	if err := addSheet(f, "summary", SummaryHeader, SummaryRows(s)); err != nil {
		return err
	}
	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func addSheet(f *xlsx.File, name string, header []string, rows [][]string) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "xlsx: add sheet %s", name)
	}
	addRow(sheet, header)
	for _, r := range rows {
		addRow(sheet, r)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
