package enrichment

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifier_Classify(t *testing.T) {
	summary := StageSpec{
		Name: "summary",
		Decode: func(b []byte) (any, error) {
			var v struct {
				Summary *string `json:"summary"`
			}
			if err := json.Unmarshal(b, &v); err != nil {
				return nil, err
			}
			if v.Summary == nil {
				return nil, errors.New("missing summary")
			}
			return *v.Summary, nil
		},
	}

	tests := []struct {
		name        string
		outcome     HTTPOutcome
		wantClass   Class
		wantPayload any
		wantMsg     string
	}{
		{
			name:        "success",
			outcome:     HTTPOutcome{StatusCode: 200, RawBody: `{"summary":"ok"}`, JSON: json.RawMessage(`{"summary":"ok"}`)},
			wantClass:   ClassSuccess,
			wantPayload: "ok",
		},
		{
			name:        "created_is_success",
			outcome:     HTTPOutcome{StatusCode: 201, RawBody: `{"summary":"x"}`, JSON: json.RawMessage(`{"summary":"x"}`)},
			wantClass:   ClassSuccess,
			wantPayload: "x",
		},
		{
			name:      "success_with_wrong_shape",
			outcome:   HTTPOutcome{StatusCode: 200, RawBody: `{"other":1}`, JSON: json.RawMessage(`{"other":1}`)},
			wantClass: ClassOtherFailure,
			wantMsg:   "unexpected response shape",
		},
		{
			name:      "success_with_non_json_body",
			outcome:   HTTPOutcome{StatusCode: 200, RawBody: `<html>`},
			wantClass: ClassOtherFailure,
			wantMsg:   "malformed response",
		},
		{
			name:      "quota_marker",
			outcome:   HTTPOutcome{StatusCode: 429, RawBody: `{"detail":"API_QUOTA_EXCEEDED"}`},
			wantClass: ClassQuotaExceeded,
			wantMsg:   QuotaMessage,
		},
		{
			name:      "plain_rate_limit",
			outcome:   HTTPOutcome{StatusCode: 429, RawBody: `{"detail":"rate limit exceeded"}`},
			wantClass: ClassRateLimited,
			wantMsg:   "429",
		},
		{
			name:      "marker_on_non_429_is_other",
			outcome:   HTTPOutcome{StatusCode: 500, RawBody: `API_QUOTA_EXCEEDED`},
			wantClass: ClassOtherFailure,
			wantMsg:   "summary failed: 500 - API_QUOTA_EXCEEDED",
		},
		{
			name:      "server_error",
			outcome:   HTTPOutcome{StatusCode: 500, RawBody: `{"detail":"boom"}`},
			wantClass: ClassOtherFailure,
			wantMsg:   `summary failed: 500 - {"detail":"boom"}`,
		},
	}

	c := NewClassifier("")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.outcome, summary)
			assert.Equal(t, tt.wantClass, got.Class)
			if tt.wantPayload != nil {
				assert.Equal(t, tt.wantPayload, got.Payload)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, got.Message, tt.wantMsg)
			}
		})
	}
}

func TestClassifier_CustomMarker(t *testing.T) {
	c := NewClassifier("QUOTA_GONE")
	assert.Equal(t, "QUOTA_GONE", c.Marker())

	got := c.Classify(HTTPOutcome{StatusCode: 429, RawBody: "API_QUOTA_EXCEEDED"}, stage("s"))
	assert.Equal(t, ClassRateLimited, got.Class)

	got = c.Classify(HTTPOutcome{StatusCode: 429, RawBody: "QUOTA_GONE"}, stage("s"))
	assert.Equal(t, ClassQuotaExceeded, got.Class)
}

func TestClassifier_TruncatesLongBodies(t *testing.T) {
	body := strings.Repeat("あ", 500)
	got := NewClassifier("").Classify(HTTPOutcome{StatusCode: 502, RawBody: body}, stage("s"))
	assert.Equal(t, ClassOtherFailure, got.Class)
	assert.True(t, strings.HasSuffix(got.Message, "..."))
	assert.Less(t, len([]rune(got.Message)), 260)
}

func TestClass_Kind(t *testing.T) {
	assert.Equal(t, KindQuotaExceeded, ClassQuotaExceeded.Kind())
	assert.Equal(t, KindRateLimited, ClassRateLimited.Kind())
	assert.Equal(t, KindOtherFailure, ClassOtherFailure.Kind())
	assert.Equal(t, "quota_exceeded", ClassQuotaExceeded.String())
}
