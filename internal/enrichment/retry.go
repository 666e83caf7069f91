package enrichment

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/enrich-cli/internal/resilience"
)

// StageRunner settles one (record, stage) pair into a terminal outcome.
type StageRunner interface {
	RunStage(ctx context.Context, rec Record, spec StageSpec) StageOutcome
}

// DefaultRetryBackoff is the pause before the single retry of a rate-limited call.
const DefaultRetryBackoff = 5 * time.Second

// stageError carries a failing classification through resilience.DoVal.
type stageError struct {
	kind    ErrorKind
	message string
}

func (e *stageError) Error() string { return e.message }

func isRateLimited(err error) bool {
	var se *stageError
	return errors.As(err, &se) && se.kind == KindRateLimited
}

// RetryPolicy invokes a stage, classifies the outcome, and retries exactly once
// after a fixed backoff when the call was rate limited. Quota exhaustion and
// other failures are never retried, so a stage makes at most two calls.
type RetryPolicy struct {
	invoker    *Invoker
	classifier *Classifier
	backoff    time.Duration
}

// NewRetryPolicy creates a RetryPolicy. A negative backoff selects
// DefaultRetryBackoff; zero retries immediately.
func NewRetryPolicy(inv *Invoker, cls *Classifier, backoff time.Duration) *RetryPolicy {
	if backoff < 0 {
		backoff = DefaultRetryBackoff
	}
	return &RetryPolicy{invoker: inv, classifier: cls, backoff: backoff}
}

// RunStage never returns a non-terminal outcome and never panics on transport
// faults; they become OtherFailure.
func (p *RetryPolicy) RunStage(ctx context.Context, rec Record, spec StageSpec) StageOutcome {
	payload, attempts, err := resilience.DoVal(ctx, p.retryConfig(rec, spec), func(ctx context.Context) (any, error) {
		out, err := p.invoker.Invoke(ctx, rec, spec)
		if err != nil {
			return nil, &stageError{kind: KindOtherFailure, message: err.Error()}
		}
		c := p.classifier.Classify(out, spec)
		if c.Class == ClassSuccess {
			return c.Payload, nil
		}
		return nil, &stageError{kind: c.Class.Kind(), message: c.Message}
	})
	if err == nil {
		return Succeeded(payload, attempts)
	}

	var se *stageError
	if !errors.As(err, &se) {
		return Failed(KindOtherFailure, err.Error(), attempts)
	}
	msg := se.message
	if attempts > 1 && se.kind != KindQuotaExceeded {
		msg = "retry failed: " + msg
	}
	return Failed(se.kind, msg, attempts)
}

// retryConfig is the shared single-retry config with this policy's backoff,
// which may exceed the default cap.
func (p *RetryPolicy) retryConfig(rec Record, spec StageSpec) resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialBackoff = p.backoff
	cfg.MaxBackoff = max(cfg.MaxBackoff, p.backoff)
	cfg.ShouldRetry = isRateLimited
	cfg.OnRetry = resilience.RetryLogger(spec.Name, rec.ID)
	return cfg
}
