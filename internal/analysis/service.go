// Package analysis implements the AI analysis behind the HTTP endpoints:
// prompting a model provider, cleaning and parsing its output, and mapping
// provider and budget failures onto HTTP-shaped errors.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

// DefaultQuotaMarker is the detail returned with 429 when the quota is spent.
const DefaultQuotaMarker = "API_QUOTA_EXCEEDED"

// Error is an analysis failure with the HTTP status it should be served as.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures a Service.
type Config struct {
	QuotaMarker string
	Timeout     time.Duration
	Limiter     *Limiter
	Breaker     *resilience.CircuitBreaker
}

// Service runs analyses against a provider.
type Service struct {
	provider Provider
	marker   string
	timeout  time.Duration
	limiter  *Limiter
	breaker  *resilience.CircuitBreaker
}

// NewService creates a Service. A nil breaker gets the default breaker, which
// trips only on transient provider failures.
func NewService(p Provider, cfg Config) *Service {
	if cfg.QuotaMarker == "" {
		cfg.QuotaMarker = DefaultQuotaMarker
	}
	if cfg.Breaker == nil {
		bc := resilience.DefaultCircuitBreakerConfig()
		bc.ShouldTrip = resilience.IsTransient
		cfg.Breaker = resilience.NewCircuitBreaker(bc)
	}
	return &Service{
		provider: p,
		marker:   cfg.QuotaMarker,
		timeout:  cfg.Timeout,
		limiter:  cfg.Limiter,
		breaker:  cfg.Breaker,
	}
}

// Provider returns the provider name.
func (s *Service) Provider() string {
	return s.provider.Name()
}

// Sentiment classifies text as positive, neutral or negative with a 0-10 score.
func (s *Service) Sentiment(ctx context.Context, text string) (model.SentimentResult, error) {
	raw, err := s.generate(ctx, KindSentiment, text)
	if err != nil {
		return model.SentimentResult{}, err
	}
	return ParseSentiment(raw), nil
}

// Summarize condenses text.
func (s *Service) Summarize(ctx context.Context, text string) (model.SummaryResult, error) {
	raw, err := s.generate(ctx, KindSummary, text)
	if err != nil {
		return model.SummaryResult{}, err
	}
	return ParseSummary(raw), nil
}

// Keywords extracts up to five keywords.
func (s *Service) Keywords(ctx context.Context, text string) (model.KeywordsResult, error) {
	raw, err := s.generate(ctx, KindKeywords, text)
	if err != nil {
		return model.KeywordsResult{}, err
	}
	return ParseKeywords(raw), nil
}

// BusinessImpact scores a news item for opportunity, threat and priority.
func (s *Service) BusinessImpact(ctx context.Context, text string) (model.BusinessImpactResult, error) {
	raw, err := s.generate(ctx, KindBusinessImpact, text)
	if err != nil {
		return model.BusinessImpactResult{}, err
	}
	return ParseBusinessImpact(raw), nil
}

func (s *Service) generate(ctx context.Context, kind Kind, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", &Error{Status: http.StatusBadRequest, Detail: "text must not be empty"}
	}

	if err := s.limiter.Acquire(); err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			return "", &Error{Status: http.StatusTooManyRequests, Detail: s.marker, Err: err}
		}
		return "", &Error{Status: http.StatusTooManyRequests, Detail: ErrRateLimited.Error()}
	}

	log := zap.L().With(zap.String("analysis", string(kind)), zap.String("provider", s.provider.Name()))
	start := time.Now()

	out, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (string, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.provider.Generate(ctx, BuildPrompt(kind, text))
	})
	if err != nil {
		log.Warn("analysis failed", zap.Error(err))
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return "", &Error{Status: http.StatusServiceUnavailable, Detail: "analysis provider unavailable", Err: err}
		case isQuotaError(err):
			return "", &Error{Status: http.StatusTooManyRequests, Detail: s.marker, Err: err}
		default:
			return "", &Error{
				Status: http.StatusInternalServerError,
				Detail: fmt.Sprintf("%s failed: %v", label(kind), err),
			}
		}
	}

	log.Debug("analysis complete", zap.Duration("duration", time.Since(start)))
	return out, nil
}
