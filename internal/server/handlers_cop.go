package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/models"
)

// GET    /api/v1/cop/{category}/{unit}/{year}/{month}        monthly report
// DELETE /api/v1/cop/{category}/{unit}/{year}/{month}/cache  drop cached report
// GET    /api/v1/anomalies                                    anomaly history

func monthQuery(r *http.Request) (models.MonthQuery, error) {
	vars := mux.Vars(r)
	year, err := strconv.Atoi(vars["year"])
	if err != nil {
		return models.MonthQuery{}, err
	}
	month, err := strconv.Atoi(vars["month"])
	if err != nil {
		return models.MonthQuery{}, err
	}
	q := models.MonthQuery{
		Category: vars["category"],
		Unit:     vars["unit"],
		Year:     year,
		Month:    time.Month(month),
	}
	return q, q.Validate()
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Aggregator == nil {
		respondError(w, http.StatusServiceUnavailable, "report aggregator not configured")
		return
	}
	q, err := monthQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.opts.Aggregator.MonthlyReport(r.Context(), q)
	if err != nil {
		s.logger.Error("monthly report failed", zap.String("query", q.String()), zap.Error(err))
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.opts.Aggregator == nil {
		respondError(w, http.StatusServiceUnavailable, "report aggregator not configured")
		return
	}
	q, err := monthQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.opts.Aggregator.Invalidate(r.Context(), q); err != nil {
		s.logger.Warn("invalidate failed", zap.String("query", q.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAnomalyHistory: GET /api/v1/anomalies
//
//	Query params (all optional):
//	  category, unit, parameter_id, severity
//	  year, month
//	  limit: max results (default 100)
func (s *Server) handleAnomalyHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.Anomalies == nil {
		respondError(w, http.StatusServiceUnavailable, "anomaly history not enabled")
		return
	}
	v := r.URL.Query()
	q := db.AnomalyQuery{
		Category:    v.Get("category"),
		Unit:        v.Get("unit"),
		ParameterID: v.Get("parameter_id"),
		Severity:    v.Get("severity"),
	}
	for name, dst := range map[string]*int{"year": &q.Year, "month": &q.Month, "limit": &q.Limit} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	recs, err := s.opts.Anomalies.QueryAnomalies(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*db.AnomalyRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"anomalies": recs,
		"total":     len(recs),
	})
}
