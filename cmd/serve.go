package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/enrich-cli/internal/analysis"
	"github.com/sells-group/enrich-cli/internal/api"
	"github.com/sells-group/enrich-cli/internal/config"
	"github.com/sells-group/enrich-cli/internal/dataset"
	"github.com/sells-group/enrich-cli/internal/monitoring"
	"github.com/sells-group/enrich-cli/internal/resilience"
)

var (
	servePort     int
	serveProvider string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveProvider != "" {
			cfg.Analysis.Provider = serveProvider
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		svc, err := newAnalysisService(ctx, cfg)
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		handler := api.NewRouter(svc, dataset.NewLoader(cfg.Data.Dir), api.Config{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Registry:       reg,
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("provider", svc.Provider()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
		})
		if cfg.Monitoring.WebhookURL != "" {
			st, err := initStore(ctx)
			if err != nil {
				zap.L().Warn("monitoring disabled: open store", zap.Error(err))
			} else {
				defer st.Close() //nolint:errcheck
				checker := monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
				g.Go(func() error {
					checker.Run(gctx)
					return nil
				})
			}
		}

		return g.Wait()
	},
}

// newAnalysisService wires the configured provider behind the local limiter
// and circuit breaker.
func newAnalysisService(ctx context.Context, c *config.Config) (*analysis.Service, error) {
	provider, err := analysis.NewProvider(ctx, analysis.ProviderConfig{
		Name:            c.Analysis.Provider,
		GeminiAPIKey:    c.Analysis.GeminiKey,
		GeminiModel:     c.Analysis.GeminiModel,
		GeminiBaseURL:   c.Analysis.GeminiBaseURL,
		AnthropicAPIKey: c.Analysis.AnthropicKey,
		AnthropicModel:  c.Analysis.AnthropicModel,
		MaxTokens:       c.Analysis.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	bc := resilience.DefaultCircuitBreakerConfig()
	if c.Breaker.FailureThreshold > 0 {
		bc.FailureThreshold = c.Breaker.FailureThreshold
	}
	if c.Breaker.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(c.Breaker.ResetTimeoutSecs) * time.Second
	}
	bc.ShouldTrip = resilience.IsTransient
	bc.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("analysis provider circuit changed",
			zap.String("provider", provider.Name()),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return analysis.NewService(provider, analysis.Config{
		QuotaMarker: c.Analysis.QuotaMarker,
		Timeout:     time.Duration(c.Analysis.RequestTimeoutSecs) * time.Second,
		Limiter: analysis.NewLimiter(analysis.LimiterConfig{
			RPS:        c.Analysis.RateLimitRPS,
			Burst:      c.Analysis.RateLimitBurst,
			DailyQuota: c.Analysis.DailyQuota,
		}),
		Breaker: resilience.NewCircuitBreaker(bc),
	}), nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveProvider, "provider", "", "analysis provider: gemini, anthropic or mock (default from config)")
	rootCmd.AddCommand(serveCmd)
}
