package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// RecordSource supplies the ordered records for a run. It is called once, at
// the start of the run; failure aborts the run.
type RecordSource interface {
	Fetch(ctx context.Context) ([]Record, error)
}

// FetchError reports that the initial record fetch failed. It is the only
// error that aborts a run before any stage executes.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch records: HTTP error! status: %d", e.StatusCode)
	}
	return "fetch records: " + e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func asFetchError(err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{Err: err}
}

// StaticSource serves a fixed slice of records.
type StaticSource []Record

func (s StaticSource) Fetch(_ context.Context) ([]Record, error) {
	return slices.Clone(s), nil
}

// HTTPRecordSource loads records from a JSON array endpoint. Each element must
// carry a unique identifier under idField and the text to analyze under
// textField; the element itself is kept as Record.Raw.
type HTTPRecordSource struct {
	fetcher   Fetcher
	url       string
	idField   string
	textField string
}

// NewHTTPRecordSource creates a source reading from url.
func NewHTTPRecordSource(f Fetcher, url, idField, textField string) *HTTPRecordSource {
	return &HTTPRecordSource{fetcher: f, url: url, idField: idField, textField: textField}
}

func (s *HTTPRecordSource) Fetch(ctx context.Context) ([]Record, error) {
	resp, err := s.fetcher.Send(ctx, Request{URL: s.url})
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(resp.Body), maxMessageBody)),
		}
	}
	records, err := s.decode(resp.Body)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	return records, nil
}

func (s *HTTPRecordSource) decode(body []byte) ([]Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, eris.Wrap(err, "decode record list")
	}

	seen := make(map[string]bool, len(items))
	records := make([]Record, 0, len(items))
	for i, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			return nil, eris.Wrapf(err, "decode record %d", i)
		}

		id := scalarString(fields[s.idField])
		if id == "" {
			return nil, eris.Errorf("record %d: missing %q", i, s.idField)
		}
		if seen[id] {
			return nil, eris.Errorf("record %d: duplicate id %q", i, id)
		}
		seen[id] = true

		var text string
		if raw, ok := fields[s.textField]; ok {
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, eris.Wrapf(err, "record %s: %q is not a string", id, s.textField)
			}
		}

		records = append(records, Record{
			ID:   id,
			Text: norm.NFC.String(strings.TrimSpace(text)),
			Raw:  slices.Clone(item),
		})
	}
	return records, nil
}

// scalarString renders a JSON string or number as a plain string.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
