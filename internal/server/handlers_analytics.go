package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/analytics/anomaly"
	"github.com/kubilitics/cop-analytics/internal/analytics/correlation"
	"github.com/kubilitics/cop-analytics/internal/analytics/qaf"
	"github.com/kubilitics/cop-analytics/internal/analytics/stats"
	"github.com/kubilitics/cop-analytics/internal/cache"
	"github.com/kubilitics/cop-analytics/internal/models"
)

// ─── Ad-hoc analysis endpoints ────────────────────────────────────────────────
//
// POST /api/v1/analytics/stats        {values}          → stats.Summary
// POST /api/v1/analytics/anomalies    {values}          → anomaly.Report
// POST /api/v1/analytics/correlation  {a, b}            → correlation.Result
// POST /api/v1/analytics/normalize    {parameter, values} → qaf.NormalizedRow
// POST /api/v1/analytics/qaf          {series}          → qaf.Result
// POST /api/v1/analytics/analyze      {series}          → analytics.Report
//
// Responses are cached by request body for the ad-hoc TTL.

const maxBodyBytes = 4 << 20

type valuesRequest struct {
	Values []*float64 `json:"values"`
}

type correlationRequest struct {
	A []*float64 `json:"a"`
	B []*float64 `json:"b"`
}

type normalizeRequest struct {
	Parameter models.Parameter `json:"parameter"`
	Values    []*float64       `json:"values"`
}

type seriesRequest struct {
	Series []models.ParameterSeries `json:"series"`
}

// badRequest marks errors caused by the request content.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "stats", func(body []byte) (any, error) {
		var req valuesRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return stats.Compute(req.Values), nil
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "anomalies", func(body []byte) (any, error) {
		var req valuesRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return anomaly.DetectSummary(req.Values, stats.Compute(req.Values)), nil
	})
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "correlation", func(body []byte) (any, error) {
		var req correlationRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return correlation.Pair(
			models.ParameterSeries{Parameter: models.Parameter{ID: "a"}, Values: req.A},
			models.ParameterSeries{Parameter: models.Parameter{ID: "b"}, Values: req.B},
		)
	})
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "normalize", func(body []byte) (any, error) {
		var req normalizeRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return qaf.Normalize(req.Parameter, req.Values), nil
	})
}

func (s *Server) handleQAF(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "qaf", func(body []byte) (any, error) {
		var req seriesRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return qaf.Compute(qaf.NormalizeSeries(req.Series))
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.serveAdhoc(w, r, "analyze", func(body []byte) (any, error) {
		var req seriesRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		agg := s.opts.Aggregator
		if agg == nil {
			agg = analytics.NewAggregator(analytics.Options{Logger: s.opts.Logger})
		}
		return agg.Analyze(r.Context(), req.Series)
	})
}

// serveAdhoc reads the body, answers from the ad-hoc cache when possible and
// otherwise computes, caches and writes the result.
func (s *Server) serveAdhoc(w http.ResponseWriter, r *http.Request, op string, compute func(body []byte) (any, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	key := cache.AnalysisKey(op, body)
	if s.opts.AdhocCache != nil {
		cached, ok, err := s.opts.AdhocCache.Get(r.Context(), key)
		if err != nil {
			s.logger.Warn("ad-hoc cache read failed", zap.String("op", op), zap.Error(err))
		}
		if ok {
			w.Header().Set("X-Cache", "hit")
			respondJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := compute(body)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("failed to encode result", zap.String("op", op), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to encode result")
		return
	}

	if s.opts.AdhocCache != nil {
		if err := s.opts.AdhocCache.Set(r.Context(), key, raw, s.opts.AdhocTTL); err != nil {
			s.logger.Warn("ad-hoc cache write failed", zap.String("op", op), zap.Error(err))
		}
	}
	w.Header().Set("X-Cache", "miss")
	respondJSON(w, http.StatusOK, json.RawMessage(raw))
}

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, correlation.ErrLengthMismatch),
		errors.Is(err, qaf.ErrRaggedRows):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrNoSource):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
