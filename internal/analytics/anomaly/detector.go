package anomaly

import (
	"math"

	"github.com/kubilitics/cop-analytics/internal/analytics/stats"
)

// Package anomaly flags outlying daily samples with the 3-sigma rule.
//
// The caller supplies mean and standard deviation (normally from
// stats.Compute) so the series is not summarised twice. Detection is pure and
// never fails: series that cannot support a baseline produce an empty report.

// Severity grades a report by how many outliers it contains.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	// SigmaThreshold is the distance from the mean, in standard deviations,
	// beyond which a sample is an outlier.
	SigmaThreshold = 3.0
	minSamples     = 3
)

// Outlier is one sample outside the 3-sigma band.
type Outlier struct {
	Index     int     `json:"index"`
	Day       int     `json:"day"`
	Value     float64 `json:"value"`
	Deviation float64 `json:"deviation"` // sigmas from the mean, signed
}

// Report lists the outliers in a series and grades them.
type Report struct {
	Outliers []Outlier `json:"outliers"`
	Severity Severity  `json:"severity"`
}

// Detect returns every present sample with |value - mean| > 3*stdDev.
// Fewer than three present samples, or a zero standard deviation, yields an
// empty low-severity report.
func Detect(samples []*float64, mean, stdDev float64) Report {
	report := Report{Outliers: []Outlier{}, Severity: SeverityLow}

	present := 0
	for _, s := range samples {
		if stats.IsPresent(s) {
			present++
		}
	}
	if present < minSamples || stdDev == 0 || math.IsNaN(stdDev) || math.IsNaN(mean) {
		return report
	}

	limit := SigmaThreshold * stdDev
	for i, s := range samples {
		if !stats.IsPresent(s) {
			continue
		}
		if math.Abs(*s-mean) > limit {
			report.Outliers = append(report.Outliers, Outlier{
				Index:     i,
				Day:       i + 1,
				Value:     *s,
				Deviation: (*s - mean) / stdDev,
			})
		}
	}

	report.Severity = severityFor(len(report.Outliers))
	return report
}

// DetectSummary runs Detect with the baseline carried by a summary.
func DetectSummary(samples []*float64, summary stats.Summary) Report {
	if summary.Mean == nil || summary.StdDev == nil {
		return Report{Outliers: []Outlier{}, Severity: SeverityLow}
	}
	return Detect(samples, *summary.Mean, *summary.StdDev)
}

func severityFor(outliers int) Severity {
	switch {
	case outliers >= 3:
		return SeverityHigh
	case outliers >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
