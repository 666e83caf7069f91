// Package api serves the record lists and analysis endpoints the enrichment
// pipeline calls.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/model"
)

// DefaultAllowedOrigins are the dashboard dev servers.
var DefaultAllowedOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

// Analyzer runs the four analyses.
type Analyzer interface {
	Sentiment(ctx context.Context, text string) (model.SentimentResult, error)
	Summarize(ctx context.Context, text string) (model.SummaryResult, error)
	Keywords(ctx context.Context, text string) (model.KeywordsResult, error)
	BusinessImpact(ctx context.Context, text string) (model.BusinessImpactResult, error)
}

// Dataset supplies the record lists.
type Dataset interface {
	ProductReviews() ([]model.ProductReview, error)
	MarketNews() ([]model.MarketNews, error)
}

// Config configures NewRouter.
type Config struct {
	AllowedOrigins []string
	// Registry receives the API metrics and is served on /metrics. A nil
	// Registry gets a fresh one.
	Registry *prometheus.Registry
}

// Server holds the handler dependencies.
type Server struct {
	analyzer Analyzer
	data     Dataset
	metrics  *Metrics
}

// NewRouter builds the HTTP handler.
func NewRouter(a Analyzer, d Dataset, cfg Config) http.Handler {
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = DefaultAllowedOrigins
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	s := &Server{analyzer: a, data: d, metrics: NewMetrics(cfg.Registry)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/product-reviews", s.productReviews)
		r.Get("/market-news", s.marketNews)
		r.Post("/analyze-sentiment", analyze(s, "sentiment", a.Sentiment))
		r.Post("/summarize-text", analyze(s, "summary", a.Summarize))
		r.Post("/extract-keywords", analyze(s, "keywords", a.Keywords))
		r.Post("/analyze-business-impact", analyze(s, "business_impact", a.BusinessImpact))
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
