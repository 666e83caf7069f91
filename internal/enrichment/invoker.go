package enrichment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// HTTPOutcome is the normalized result of one stage call. JSON is set only
// when the body is valid JSON.
type HTTPOutcome struct {
	StatusCode int
	RawBody    string
	JSON       json.RawMessage
}

// Invoker turns a (record, stage) pair into one HTTP call.
type Invoker struct {
	fetcher Fetcher
	baseURL string
}

// NewInvoker creates an Invoker that resolves stage paths against baseURL.
func NewInvoker(f Fetcher, baseURL string) *Invoker {
	return &Invoker{fetcher: f, baseURL: strings.TrimRight(baseURL, "/")}
}

// Invoke performs exactly one call. HTTP error statuses are returned as
// outcomes; only transport faults and body-building failures return an error.
func (inv *Invoker) Invoke(ctx context.Context, rec Record, spec StageSpec) (HTTPOutcome, error) {
	body, err := spec.body(rec)
	if err != nil {
		return HTTPOutcome{}, eris.Wrapf(err, "invoker: build %s body for record %s", spec.Name, rec.ID)
	}

	resp, err := inv.fetcher.Send(ctx, Request{
		URL:    inv.baseURL + spec.Path,
		Method: spec.method(),
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   body,
	})
	if err != nil {
		return HTTPOutcome{}, err
	}

	out := HTTPOutcome{StatusCode: resp.StatusCode, RawBody: string(resp.Body)}
	if json.Valid(resp.Body) {
		out.JSON = json.RawMessage(out.RawBody)
	}
	return out, nil
}
