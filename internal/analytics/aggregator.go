package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/cop-analytics/internal/analytics/anomaly"
	"github.com/kubilitics/cop-analytics/internal/analytics/correlation"
	"github.com/kubilitics/cop-analytics/internal/analytics/qaf"
	"github.com/kubilitics/cop-analytics/internal/analytics/stats"
	"github.com/kubilitics/cop-analytics/internal/cache"
	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/metrics"
	"github.com/kubilitics/cop-analytics/internal/models"
	"github.com/kubilitics/cop-analytics/internal/source"
)

// Package analytics assembles monthly COP reports: per-parameter statistics
// and anomalies, the QAF over normalised readings, and the correlation
// matrix across parameters.

// DefaultReportTTL is the lifetime of a cached monthly report.
const DefaultReportTTL = 24 * time.Hour

// ErrNoSource is returned by MonthlyReport when the aggregator was built
// without a series source.
var ErrNoSource = errors.New("analytics: no series source configured")

// ParameterReport is the analysis of one parameter over the month.
type ParameterReport struct {
	Parameter  models.Parameter  `json:"parameter"`
	Normalized qaf.NormalizedRow `json:"normalized"`
	Stats      stats.Summary     `json:"stats"`
	Anomalies  anomaly.Report    `json:"anomalies"`
}

// Report is a complete analysis of a set of series.
type Report struct {
	RunID        string               `json:"run_id"`
	Query        *models.MonthQuery   `json:"query,omitempty"`
	Days         int                  `json:"days"`
	Parameters   []ParameterReport    `json:"parameters"`
	QAF          qaf.Result           `json:"qaf"`
	Correlations []correlation.Result `json:"correlations"`
	GeneratedAt  time.Time            `json:"generated_at"`
	Cached       bool                 `json:"cached"`
}

// Options configures an Aggregator. Only Source is needed for MonthlyReport;
// every other field is optional.
type Options struct {
	Source source.SeriesSource
	// Cache stores computed monthly reports. Nil disables caching.
	Cache     *cache.Typed[Report]
	ReportTTL time.Duration
	// Anomalies persists outliers of freshly computed reports when set.
	Anomalies db.AnomalyStore
	// Workers bounds parallel per-parameter computation.
	Workers int
	Logger  *zap.Logger
}

// Aggregator computes monthly reports.
type Aggregator struct {
	source    source.SeriesSource
	cache     *cache.Typed[Report]
	ttl       time.Duration
	anomalies db.AnomalyStore
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts Options) *Aggregator {
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = DefaultReportTTL
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Aggregator{
		source:    opts.Source,
		cache:     opts.Cache,
		ttl:       opts.ReportTTL,
		anomalies: opts.Anomalies,
		workers:   opts.Workers,
		logger:    opts.Logger.Named("aggregator"),
		now:       time.Now,
	}
}

// MonthlyReport returns the report for q, from cache when possible.
// Cache failures never fail the request; source failures do.
func (a *Aggregator) MonthlyReport(ctx context.Context, q models.MonthQuery) (*Report, error) {
	q = q.Trimmed()
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := a.now()
	key := cache.ReportKey(q.Category, q.Unit, q.Year, q.Month)

	if a.cache != nil {
		cached, ok, err := a.cache.Get(ctx, key)
		switch {
		case err != nil:
			a.logger.Warn("cache read failed, recomputing",
				zap.String("query", q.String()), zap.Error(err))
		case ok:
			cached.Cached = true
			a.observe("cached", start)
			return &cached, nil
		}
	}

	if a.source == nil {
		return nil, ErrNoSource
	}
	series, err := a.source.LoadMonth(ctx, q)
	if err != nil {
		a.observe("error", start)
		return nil, fmt.Errorf("load month %s: %w", q, err)
	}

	report, err := a.Analyze(ctx, series)
	if err != nil {
		a.observe("error", start)
		return nil, fmt.Errorf("analyze %s: %w", q, err)
	}
	report.Query = &q
	if report.Days == 0 {
		report.Days = q.DaysInMonth()
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, *report, a.ttl); err != nil {
			a.logger.Warn("cache write failed",
				zap.String("query", q.String()), zap.Error(err))
		}
	}
	a.recordAnomalies(ctx, q, report)

	a.observe("computed", start)
	a.logger.Info("monthly report computed",
		zap.String("run_id", report.RunID),
		zap.String("query", q.String()),
		zap.Int("parameters", len(report.Parameters)),
		zap.Duration("duration", a.now().Sub(start)))
	return report, nil
}

// Invalidate drops the cached report for q.
func (a *Aggregator) Invalidate(ctx context.Context, q models.MonthQuery) error {
	q = q.Trimmed()
	if err := q.Validate(); err != nil {
		return err
	}
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Delete(ctx, cache.ReportKey(q.Category, q.Unit, q.Year, q.Month)); err != nil {
		return fmt.Errorf("invalidate %s: %w", q, err)
	}
	a.logger.Debug("report invalidated", zap.String("query", q.String()))
	return nil
}

// Analyze computes a report for series without touching the cache or the
// source. Parameter reports keep the order of series. All series must have
// the same length.
func (a *Aggregator) Analyze(ctx context.Context, series []models.ParameterSeries) (*Report, error) {
	params := make([]ParameterReport, len(series))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range series {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			params[i] = analyzeParameter(series[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := make([]qaf.NormalizedRow, len(params))
	for i := range params {
		rows[i] = params[i].Normalized
	}
	factor, err := qaf.Compute(rows)
	if err != nil {
		return nil, err
	}
	matrix, err := correlation.Matrix(series)
	if err != nil {
		return nil, err
	}

	days := 0
	if len(series) > 0 {
		days = len(series[0].Values)
	}
	return &Report{
		RunID:        uuid.NewString(),
		Days:         days,
		Parameters:   params,
		QAF:          factor,
		Correlations: matrix,
		GeneratedAt:  a.now().UTC(),
	}, nil
}

func analyzeParameter(s models.ParameterSeries) ParameterReport {
	summary := stats.Compute(s.Values)
	return ParameterReport{
		Parameter:  s.Parameter,
		Normalized: qaf.Normalize(s.Parameter, s.Values),
		Stats:      summary,
		Anomalies:  anomaly.DetectSummary(s.Values, summary),
	}
}

func (a *Aggregator) recordAnomalies(ctx context.Context, q models.MonthQuery, report *Report) {
	var recs []*db.AnomalyRecord
	for _, p := range report.Parameters {
		metrics.AnomaliesDetected.WithLabelValues(string(p.Anomalies.Severity)).Add(float64(len(p.Anomalies.Outliers)))
		for _, o := range p.Anomalies.Outliers {
			recs = append(recs, &db.AnomalyRecord{
				RunID:       report.RunID,
				Category:    q.Category,
				Unit:        q.Unit,
				Year:        q.Year,
				Month:       int(q.Month),
				ParameterID: p.Parameter.ID,
				Day:         o.Day,
				Value:       o.Value,
				Deviation:   o.Deviation,
				Severity:    string(p.Anomalies.Severity),
				DetectedAt:  report.GeneratedAt,
			})
		}
	}
	if a.anomalies == nil || len(recs) == 0 {
		return
	}
	if err := a.anomalies.AppendAnomalies(ctx, recs); err != nil {
		a.logger.Warn("failed to record anomalies",
			zap.String("run_id", report.RunID), zap.Int("count", len(recs)), zap.Error(err))
	}
}

func (a *Aggregator) observe(result string, start time.Time) {
	metrics.ReportsTotal.WithLabelValues(result).Inc()
	metrics.ReportDuration.WithLabelValues(result).Observe(a.now().Sub(start).Seconds())
}
