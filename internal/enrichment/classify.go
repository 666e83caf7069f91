package enrichment

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultQuotaMarker is the token the analysis service places in a 429 body
// when the provider quota is exhausted.
const DefaultQuotaMarker = "API_QUOTA_EXCEEDED"

// QuotaMessage is shown for quota exhaustion instead of the raw response.
const QuotaMessage = "The free API quota has been reached, so this analysis cannot run. Please wait a while and try again."

const maxMessageBody = 200

// Class is the classifier's verdict on one HTTP outcome.
type Class int

const (
	ClassSuccess Class = iota
	ClassQuotaExceeded
	ClassRateLimited
	ClassOtherFailure
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassQuotaExceeded:
		return "quota_exceeded"
	case ClassRateLimited:
		return "rate_limited"
	case ClassOtherFailure:
		return "other_failure"
	default:
		return "unknown"
	}
}

// Kind maps a failing class to the ErrorKind stored on a failed outcome.
func (c Class) Kind() ErrorKind {
	switch c {
	case ClassQuotaExceeded:
		return KindQuotaExceeded
	case ClassRateLimited:
		return KindRateLimited
	default:
		return KindOtherFailure
	}
}

// Classification is the result of Classify.
type Classification struct {
	Class   Class
	Payload any
	Message string
}

// Classifier sorts HTTP outcomes into success, quota exhaustion, transient
// rate limiting, and everything else.
type Classifier struct {
	marker string
}

// NewClassifier creates a Classifier that detects quota exhaustion by marker.
// An empty marker selects DefaultQuotaMarker.
func NewClassifier(marker string) *Classifier {
	if marker == "" {
		marker = DefaultQuotaMarker
	}
	return &Classifier{marker: marker}
}

// Marker returns the quota-exhaustion token in use.
func (c *Classifier) Marker() string {
	return c.marker
}

// Classify applies, in order: 2xx with a well-formed body is success; 429
// containing the marker is quota exhaustion; any other 429 is rate limiting;
// everything else, including a malformed 2xx body, is a plain failure.
func (c *Classifier) Classify(out HTTPOutcome, spec StageSpec) Classification {
	switch {
	case out.StatusCode >= 200 && out.StatusCode < 300:
		if out.JSON == nil {
			return Classification{
				Class:   ClassOtherFailure,
				Message: fmt.Sprintf("%s failed: malformed response: %s", spec.Name, truncate(out.RawBody, maxMessageBody)),
			}
		}
		payload, err := spec.decode(out.JSON)
		if err != nil {
			return Classification{
				Class:   ClassOtherFailure,
				Message: fmt.Sprintf("%s failed: unexpected response shape: %v", spec.Name, err),
			}
		}
		return Classification{Class: ClassSuccess, Payload: payload}

	case out.StatusCode == 429 && strings.Contains(out.RawBody, c.marker):
		return Classification{Class: ClassQuotaExceeded, Message: QuotaMessage}

	case out.StatusCode == 429:
		return Classification{
			Class:   ClassRateLimited,
			Message: fmt.Sprintf("%s could not run due to API request limits (429)", spec.Name),
		}

	default:
		return Classification{
			Class:   ClassOtherFailure,
			Message: fmt.Sprintf("%s failed: %d - %s", spec.Name, out.StatusCode, truncate(out.RawBody, maxMessageBody)),
		}
	}
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
