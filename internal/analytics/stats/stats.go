package stats

import (
	"math"

	mstats "github.com/montanaflynn/stats"
)

// Package stats computes descriptive statistics over optional daily samples.
//
// All functions are pure. Absent (nil) and non-finite samples are dropped
// before any arithmetic; completeness is the only figure that still looks at
// the original slot count.
//
// Standard deviation is the population form (divide by N). Reference outputs
// from the reporting application depend on it.

// Trend classifies the direction of a least-squares fit over the samples.
type Trend string

const (
	TrendIncreasing   Trend = "increasing"
	TrendDecreasing   Trend = "decreasing"
	TrendStable       Trend = "stable"
	TrendInsufficient Trend = "insufficient"
)

const (
	// minTrendPoints is the smallest number of present samples a trend is fit on.
	minTrendPoints = 3
	// stableSlope is the slope magnitude below which a series counts as flat.
	stableSlope = 0.01
)

// Summary holds descriptive statistics for one series.
type Summary struct {
	Mean         *float64 `json:"mean"`
	Median       *float64 `json:"median"`
	StdDev       *float64 `json:"std_dev"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	Count        int      `json:"count"`
	Total        int      `json:"total"`
	Completeness float64  `json:"completeness"`
	Slope        *float64 `json:"slope"`
	Trend        Trend    `json:"trend"`
}

// Present returns the present, finite values of samples in their original order.
func Present(samples []*float64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s == nil || math.IsNaN(*s) || math.IsInf(*s, 0) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

// IsPresent reports whether a sample holds a finite value.
func IsPresent(s *float64) bool {
	return s != nil && !math.IsNaN(*s) && !math.IsInf(*s, 0)
}

// Compute returns the summary statistics for samples.
func Compute(samples []*float64) Summary {
	values := Present(samples)
	summary := Summary{
		Count: len(values),
		Total: len(samples),
		Trend: TrendInsufficient,
	}
	if len(samples) > 0 {
		summary.Completeness = float64(len(values)) / float64(len(samples)) * 100
	}
	if len(values) == 0 {
		return summary
	}

	// The library only errors on empty input, which is excluded above.
	mean, _ := mstats.Mean(values)
	median, _ := mstats.Median(values)
	stdDev, _ := mstats.StandardDeviationPopulation(values)
	lo, _ := mstats.Min(values)
	hi, _ := mstats.Max(values)

	// Sums over huge readings can overflow; such aggregates count as missing.
	summary.Mean = finite(mean)
	summary.Median = finite(median)
	summary.StdDev = finite(stdDev)
	summary.Min = finite(lo)
	summary.Max = finite(hi)

	if slope, ok := Slope(values); ok {
		summary.Slope = &slope
		summary.Trend = ClassifySlope(slope)
	}
	return summary
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Slope fits y = a*x + b by ordinary least squares against the positional
// index 0..n-1 of values and returns a. It reports false when fewer than
// three values are given or the fit is not finite.
func Slope(values []float64) (float64, bool) {
	if len(values) < minTrendPoints {
		return 0, false
	}

	n := float64(len(values))
	var sumX, sumY, sumXY, sumX2 float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denominator
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, false
	}
	return slope, true
}

// ClassifySlope maps a fitted slope to a trend direction.
func ClassifySlope(slope float64) Trend {
	switch {
	case math.Abs(slope) < stableSlope:
		return TrendStable
	case slope > 0:
		return TrendIncreasing
	default:
		return TrendDecreasing
	}
}

// MeanOf returns the arithmetic mean of the present samples, or nil when
// none are present or the mean overflows.
func MeanOf(samples []*float64) *float64 {
	values := Present(samples)
	if len(values) == 0 {
		return nil
	}
	mean, _ := mstats.Mean(values)
	return finite(mean)
}
