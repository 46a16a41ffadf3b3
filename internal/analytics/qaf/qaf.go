package qaf

import (
	"errors"
	"fmt"
	"math"

	"github.com/kubilitics/cop-analytics/internal/analytics/stats"
	"github.com/kubilitics/cop-analytics/internal/models"
)

// Package qaf normalises raw daily readings against each parameter's target
// band and aggregates the quality attainment factor (QAF): the share of
// parameter-days whose normalised value lands inside [0, 100].
//
// A normalised value outside [0, 100] is a real reading that missed its
// band, not missing data. Only absent readings, missing or inverted bounds
// and non-finite arithmetic produce nil.

// ErrRaggedRows is returned when rows passed to Compute cover different
// numbers of days.
var ErrRaggedRows = errors.New("qaf: rows have different day counts")

// NormalizedRow is one parameter's month after normalisation.
type NormalizedRow struct {
	ParameterID   string     `json:"parameter_id"`
	Name          string     `json:"name"`
	Unit          string     `json:"unit"`
	MinValue      *float64   `json:"min_value"`
	MaxValue      *float64   `json:"max_value"`
	Raw           []*float64 `json:"raw"`
	Percentages   []*float64 `json:"percentages"`
	AvgPercentage *float64   `json:"avg_percentage"`
	AvgRaw        *float64   `json:"avg_raw"`
}

// DailyQAF is the in-band share for a single day.
type DailyQAF struct {
	Day     int      `json:"day"`
	Value   *float64 `json:"value"`
	InRange int      `json:"in_range"`
	Counted int      `json:"counted"`
}

// MonthlyQAF is the in-band share over every counted parameter-day.
type MonthlyQAF struct {
	Value   *float64 `json:"value"`
	InRange int      `json:"in_range"`
	Counted int      `json:"counted"`
}

// Result bundles the daily and monthly factors.
type Result struct {
	Daily   []DailyQAF `json:"daily"`
	Monthly MonthlyQAF `json:"monthly"`
}

// Percentage maps raw onto the band [min, max] as (raw-min)/(max-min)*100.
// It reports false when raw or a bound is missing, the band is empty or
// inverted, or the arithmetic is not finite.
func Percentage(raw, minValue, maxValue *float64) (float64, bool) {
	if !stats.IsPresent(raw) || minValue == nil || maxValue == nil {
		return 0, false
	}
	if *maxValue <= *minValue {
		return 0, false
	}
	pct := (*raw - *minValue) / (*maxValue - *minValue) * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, false
	}
	return pct, true
}

// Normalize converts a parameter's raw daily values into percentages of its
// target band and computes the month's mean percentage and mean raw value,
// each over the days where that value is present.
func Normalize(param models.Parameter, raw []*float64) NormalizedRow {
	row := NormalizedRow{
		ParameterID: param.ID,
		Name:        param.Name,
		Unit:        param.Unit,
		MinValue:    param.MinValue,
		MaxValue:    param.MaxValue,
		Raw:         make([]*float64, len(raw)),
		Percentages: make([]*float64, len(raw)),
	}

	for i, v := range raw {
		if stats.IsPresent(v) {
			rv := *v
			row.Raw[i] = &rv
		}
		if pct, ok := Percentage(v, param.MinValue, param.MaxValue); ok {
			row.Percentages[i] = &pct
		}
	}

	row.AvgPercentage = stats.MeanOf(row.Percentages)
	row.AvgRaw = stats.MeanOf(row.Raw)
	return row
}

// NormalizeSeries normalises every series, keeping input order.
func NormalizeSeries(series []models.ParameterSeries) []NormalizedRow {
	rows := make([]NormalizedRow, len(series))
	for i, s := range series {
		rows[i] = Normalize(s.Parameter, s.Values)
	}
	return rows
}

// InRange reports whether a normalised value sits inside [0, 100].
func InRange(pct float64) bool {
	return pct >= 0 && pct <= 100
}

// Compute aggregates daily and monthly QAF over rows. Days where no
// parameter has a normalised value get a nil daily value and add nothing to
// the monthly numerator or denominator.
func Compute(rows []NormalizedRow) (Result, error) {
	days := 0
	for i, row := range rows {
		if i == 0 {
			days = len(row.Percentages)
			continue
		}
		if len(row.Percentages) != days {
			return Result{}, fmt.Errorf("%w: %s has %d days, expected %d",
				ErrRaggedRows, row.ParameterID, len(row.Percentages), days)
		}
	}

	result := Result{Daily: make([]DailyQAF, days)}
	for d := 0; d < days; d++ {
		daily := DailyQAF{Day: d + 1}
		for _, row := range rows {
			pct := row.Percentages[d]
			if pct == nil {
				continue
			}
			daily.Counted++
			if InRange(*pct) {
				daily.InRange++
			}
		}
		daily.Value = ratio(daily.InRange, daily.Counted)

		result.Daily[d] = daily
		result.Monthly.InRange += daily.InRange
		result.Monthly.Counted += daily.Counted
	}

	result.Monthly.Value = ratio(result.Monthly.InRange, result.Monthly.Counted)
	return result, nil
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den) * 100
	return &v
}
