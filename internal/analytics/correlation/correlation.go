package correlation

import (
	"errors"
	"fmt"
	"math"
	"sort"

	mstats "github.com/montanaflynn/stats"

	"github.com/kubilitics/cop-analytics/internal/analytics/stats"
	"github.com/kubilitics/cop-analytics/internal/models"
)

// ErrLengthMismatch is returned when two series cannot be paired by index.
var ErrLengthMismatch = errors.New("correlation: series lengths differ")

// Strength buckets the magnitude of a correlation coefficient.
type Strength string

const (
	StrengthNone     Strength = "none"
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

const minPairs = 3

// Result is the correlation between two parameters.
type Result struct {
	ParameterA  string   `json:"parameter_a"`
	ParameterB  string   `json:"parameter_b"`
	Coefficient *float64 `json:"coefficient"`
	Strength    Strength `json:"strength,omitempty"`
	Pairs       int      `json:"pairs"`
}

// Correlate returns the Pearson coefficient of a and b over the days where
// both hold a finite value. It returns nil when fewer than three such pairs
// exist or either side has zero variance over them.
func Correlate(a, b []*float64) (*float64, error) {
	r, _, err := correlate(a, b)
	return r, err
}

func correlate(a, b []*float64) (*float64, int, error) {
	if len(a) != len(b) {
		return nil, 0, fmt.Errorf("%w: %d != %d", ErrLengthMismatch, len(a), len(b))
	}

	xs := make([]float64, 0, len(a))
	ys := make([]float64, 0, len(b))
	for i := range a {
		if stats.IsPresent(a[i]) && stats.IsPresent(b[i]) {
			xs = append(xs, *a[i])
			ys = append(ys, *b[i])
		}
	}
	if len(xs) < minPairs {
		return nil, len(xs), nil
	}

	sdA, _ := mstats.StandardDeviationPopulation(xs)
	sdB, _ := mstats.StandardDeviationPopulation(ys)
	if sdA == 0 || sdB == 0 {
		return nil, len(xs), nil
	}

	// Correlation is population covariance over the product of population
	// standard deviations.
	r, err := mstats.Correlation(xs, ys)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, len(xs), nil
	}
	r = math.Max(-1, math.Min(1, r))
	return &r, len(xs), nil
}

// Classify buckets |r| into none (<0.3), weak (<0.5), moderate (<0.8) or strong.
func Classify(r float64) Strength {
	abs := math.Abs(r)
	switch {
	case abs >= 0.8:
		return StrengthStrong
	case abs >= 0.5:
		return StrengthModerate
	case abs >= 0.3:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// Pair correlates two parameter series into a Result.
func Pair(a, b models.ParameterSeries) (Result, error) {
	r, pairs, err := correlate(a.Values, b.Values)
	if err != nil {
		return Result{}, fmt.Errorf("%s/%s: %w", a.Parameter.ID, b.Parameter.ID, err)
	}
	res := Result{
		ParameterA:  a.Parameter.ID,
		ParameterB:  b.Parameter.ID,
		Coefficient: r,
		Pairs:       pairs,
	}
	if r != nil {
		res.Strength = Classify(*r)
	}
	return res, nil
}

// Matrix correlates every unordered pair of series. Results are sorted by
// descending |r| with nil coefficients last; ties keep input pair order.
func Matrix(series []models.ParameterSeries) ([]Result, error) {
	results := make([]Result, 0, len(series)*(len(series)-1)/2+1)
	for i := 0; i < len(series); i++ {
		for j := i + 1; j < len(series); j++ {
			res, err := Pair(series[i], series[j])
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
	}
	Sort(results)
	return results, nil
}

// Sort orders results by descending |r|, nil coefficients last.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := results[i].Coefficient, results[j].Coefficient
		if ri == nil || rj == nil {
			return ri != nil && rj == nil
		}
		return math.Abs(*ri) > math.Abs(*rj)
	})
}
