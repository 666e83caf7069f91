package enrichment

import (
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"
)

// StageSpec describes one enrichment capability applied to every record.
type StageSpec struct {
	Name       string
	Path       string
	Method     string
	ResultType string

	// BuildBody produces the request payload for a record. Defaults to TextBody.
	BuildBody func(Record) ([]byte, error)

	// Decode validates a successful response body against the stage's result
	// shape. A decode error marks the stage as failed. Defaults to generic JSON.
	Decode func([]byte) (any, error)
}

func (s StageSpec) method() string {
	if s.Method == "" {
		return http.MethodPost
	}
	return s.Method
}

func (s StageSpec) body(r Record) ([]byte, error) {
	if s.BuildBody == nil {
		return TextBody(r)
	}
	return s.BuildBody(r)
}

func (s StageSpec) decode(b []byte) (any, error) {
	if s.Decode != nil {
		return s.Decode(b)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, eris.Wrap(err, "decode response")
	}
	return v, nil
}

// TextBody is the request payload every analysis endpoint accepts:
// {"text": "<record text>"}.
func TextBody(r Record) ([]byte, error) {
	return json.Marshal(struct {
		Text string `json:"text"`
	}{Text: r.Text})
}
