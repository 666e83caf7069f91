package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/enrich-cli/internal/analysis"
	"github.com/sells-group/enrich-cli/internal/model"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) productReviews(w http.ResponseWriter, _ *http.Request) {
	reviews, err := s.data.ProductReviews()
	if err != nil {
		zap.L().Error("load product reviews", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to load product reviews")
		return
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) marketNews(w http.ResponseWriter, _ *http.Request) {
	news, err := s.data.MarketNews()
	if err != nil {
		zap.L().Error("load market news", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to load market news")
		return
	}
	writeJSON(w, http.StatusOK, news)
}

// analyze adapts one analysis to a POST {"text": ...} handler.
func analyze[T any](s *Server, name string, fn func(context.Context, string) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.TextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.metrics.AnalysisErrors.WithLabelValues(name, errorReason(http.StatusUnprocessableEntity)).Inc()
			writeDetail(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}

		out, err := fn(r.Context(), req.Text)
		if err != nil {
			status, detail := http.StatusInternalServerError, err.Error()
			var ae *analysis.Error
			if errors.As(err, &ae) {
				status, detail = ae.Status, ae.Detail
			}
			s.metrics.AnalysisErrors.WithLabelValues(name, errorReason(status)).Inc()
			writeDetail(w, status, detail)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, model.ErrorDetail{Detail: detail})
}
