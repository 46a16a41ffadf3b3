package stats

import (
	"math"
	"reflect"
	"testing"
)

func f(v float64) *float64 { return &v }

func TestCompute_MixedSamples(t *testing.T) {
	// [10, 20, null, 30]
	s := Compute([]*float64{f(10), f(20), nil, f(30)})

	if s.Count != 3 {
		t.Fatalf("Expected count 3, got %d", s.Count)
	}
	if s.Mean == nil || math.Abs(*s.Mean-20) > 1e-9 {
		t.Errorf("Expected mean 20, got %v", s.Mean)
	}
	if s.Median == nil || *s.Median != 20 {
		t.Errorf("Expected median 20, got %v", s.Median)
	}
	expectedStdDev := math.Sqrt(200.0 / 3.0)
	if s.StdDev == nil || math.Abs(*s.StdDev-expectedStdDev) > 1e-9 {
		t.Errorf("Expected population std dev %.4f, got %v", expectedStdDev, s.StdDev)
	}
	if math.Abs(*s.StdDev-8.165) > 0.001 {
		t.Errorf("Expected std dev ~8.165, got %.4f", *s.StdDev)
	}
	if s.Completeness != 75 {
		t.Errorf("Expected completeness 75, got %.2f", s.Completeness)
	}
	if *s.Min != 10 || *s.Max != 30 {
		t.Errorf("Expected min 10 and max 30, got %.2f and %.2f", *s.Min, *s.Max)
	}
	if s.Trend != TrendIncreasing {
		t.Errorf("Expected increasing trend, got %s", s.Trend)
	}
}

func TestCompute_NoPresentValues(t *testing.T) {
	s := Compute([]*float64{nil, f(math.NaN()), f(math.Inf(1))})

	if s.Mean != nil || s.Median != nil || s.StdDev != nil || s.Min != nil || s.Max != nil {
		t.Errorf("Expected nil numeric fields, got %+v", s)
	}
	if s.Count != 0 || s.Total != 3 {
		t.Errorf("Expected count 0 of 3, got %d of %d", s.Count, s.Total)
	}
	if s.Completeness != 0 {
		t.Errorf("Expected completeness 0, got %.2f", s.Completeness)
	}
	if s.Trend != TrendInsufficient {
		t.Errorf("Expected insufficient trend, got %s", s.Trend)
	}
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	if s.Completeness != 0 || s.Trend != TrendInsufficient || s.Total != 0 {
		t.Errorf("Unexpected summary for empty input: %+v", s)
	}
}

func TestCompute_EvenMedian(t *testing.T) {
	s := Compute([]*float64{f(4), f(1), f(3), f(2)})
	if *s.Median != 2.5 {
		t.Errorf("Expected median 2.5, got %.2f", *s.Median)
	}
}

func TestCompute_Trends(t *testing.T) {
	tests := []struct {
		name    string
		samples []*float64
		want    Trend
	}{
		{"two values", []*float64{f(1), f(5)}, TrendInsufficient},
		{"increasing", []*float64{f(1), f(2), f(3)}, TrendIncreasing},
		{"decreasing", []*float64{f(9), nil, f(6), f(3)}, TrendDecreasing},
		{"flat", []*float64{f(5), f(5), f(5), f(5)}, TrendStable},
		{"below stable band", []*float64{f(1), f(1.005), f(1.01)}, TrendStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compute(tt.samples).Trend; got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSlope_UsesPositionalIndex(t *testing.T) {
	// Gaps between present values do not stretch the x axis.
	withGaps := Compute([]*float64{f(1), nil, nil, f(2), nil, f(3)})
	dense := Compute([]*float64{f(1), f(2), f(3)})

	if withGaps.Slope == nil || dense.Slope == nil {
		t.Fatal("Expected slopes to be computed")
	}
	if *withGaps.Slope != *dense.Slope {
		t.Errorf("Expected identical slopes, got %.4f and %.4f", *withGaps.Slope, *dense.Slope)
	}
	if math.Abs(*dense.Slope-1) > 1e-12 {
		t.Errorf("Expected slope 1, got %.4f", *dense.Slope)
	}
}

func TestClassifySlope_Boundary(t *testing.T) {
	if ClassifySlope(0.0099) != TrendStable {
		t.Error("Expected 0.0099 to be stable")
	}
	if ClassifySlope(0.01) != TrendIncreasing {
		t.Error("Expected 0.01 to be increasing")
	}
	if ClassifySlope(-0.01) != TrendDecreasing {
		t.Error("Expected -0.01 to be decreasing")
	}
}

func TestCompute_Idempotent(t *testing.T) {
	samples := []*float64{f(3.3), nil, f(1.1), f(7.25), f(2.2)}
	a := Compute(samples)
	b := Compute(samples)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Expected identical summaries, got %+v and %+v", a, b)
	}
}

func TestCompute_CompletenessInvariant(t *testing.T) {
	cases := [][]*float64{
		{f(1)},
		{f(1), f(2), f(3)},
		{nil},
		{f(1), nil},
		{nil, nil, f(4), f(math.NaN())},
	}
	for _, samples := range cases {
		s := Compute(samples)
		if s.Completeness < 0 || s.Completeness > 100 {
			t.Errorf("Completeness out of range: %.2f", s.Completeness)
		}
		absent := false
		for _, v := range samples {
			if !IsPresent(v) {
				absent = true
			}
		}
		if (s.Completeness == 100) == absent {
			t.Errorf("Completeness %.2f inconsistent with absent=%v", s.Completeness, absent)
		}
	}
}

func TestMeanOf(t *testing.T) {
	if MeanOf([]*float64{nil, nil}) != nil {
		t.Error("Expected nil mean when nothing is present")
	}
	if m := MeanOf([]*float64{f(2), nil, f(4)}); m == nil || *m != 3 {
		t.Errorf("Expected mean 3, got %v", m)
	}
}

func TestCompute_OverflowedAggregatesAreMissing(t *testing.T) {
	big := 1.7e308
	s := Compute([]*float64{f(big), f(big), f(big)})

	if s.Mean != nil {
		t.Errorf("Expected overflowed mean to be nil, got %v", *s.Mean)
	}
	if s.StdDev != nil {
		t.Errorf("Expected overflowed std dev to be nil, got %v", *s.StdDev)
	}
	if s.Slope != nil || s.Trend != TrendInsufficient {
		t.Errorf("Expected no trend over an overflowed fit, got %v %s", s.Slope, s.Trend)
	}
	if s.Median == nil || *s.Median != big || s.Min == nil || *s.Min != big || s.Max == nil || *s.Max != big {
		t.Errorf("Expected finite median/min/max to be kept, got %+v", s)
	}
	if s.Count != 3 || s.Completeness != 100 {
		t.Errorf("Expected 3 present samples, got %d (%.2f%%)", s.Count, s.Completeness)
	}
}

func TestMeanOf_Overflow(t *testing.T) {
	if m := MeanOf([]*float64{f(1.7e308), nil, f(1.7e308)}); m != nil {
		t.Errorf("Expected nil mean on overflow, got %v", *m)
	}
}
