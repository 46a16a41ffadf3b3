package models

import (
	"fmt"
	"strings"
	"time"
)

// Package models defines the domain types shared by the COP analytics
// packages: monitored parameters, their daily series and the month a report
// covers.
//
// Optional samples are *float64 throughout. A nil slot means no reading was
// taken that day and encodes as JSON null.

// Parameter identifies one monitored plant parameter and its target band.
type Parameter struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Unit      string   `json:"unit"`
	Category  string   `json:"category,omitempty"`
	PlantUnit string   `json:"plant_unit,omitempty"`
	MinValue  *float64 `json:"min_value"`
	MaxValue  *float64 `json:"max_value"`
}

// ParameterSeries is a parameter plus one sample slot per calendar day.
type ParameterSeries struct {
	Parameter Parameter  `json:"parameter"`
	Values    []*float64 `json:"values"`
}

// MonthQuery selects the reporting month for one category and plant unit.
type MonthQuery struct {
	Category string     `json:"category"`
	Unit     string     `json:"unit"`
	Year     int        `json:"year"`
	Month    time.Month `json:"month"`
}

// Validate checks the query is well formed.
func (q MonthQuery) Validate() error {
	if strings.TrimSpace(q.Category) == "" {
		return fmt.Errorf("category is required")
	}
	if strings.TrimSpace(q.Unit) == "" {
		return fmt.Errorf("unit is required")
	}
	if q.Year < 1 {
		return fmt.Errorf("year must be positive, got %d", q.Year)
	}
	if q.Month < time.January || q.Month > time.December {
		return fmt.Errorf("month must be between 1 and 12, got %d", q.Month)
	}
	return nil
}

// Trimmed returns q with surrounding whitespace removed from category and
// unit. Case is kept: upstream sources compare names exactly.
func (q MonthQuery) Trimmed() MonthQuery {
	q.Category = strings.TrimSpace(q.Category)
	q.Unit = strings.TrimSpace(q.Unit)
	return q
}

// Start returns midnight UTC on the first day of the month.
func (q MonthQuery) Start() time.Time {
	return time.Date(q.Year, q.Month, 1, 0, 0, 0, 0, time.UTC)
}

// DaysInMonth returns the number of calendar days in the queried month.
func (q MonthQuery) DaysInMonth() int {
	return q.Start().AddDate(0, 1, -1).Day()
}

func (q MonthQuery) String() string {
	return fmt.Sprintf("%s/%s/%04d-%02d", q.Category, q.Unit, q.Year, int(q.Month))
}

// Float returns a pointer to v, for building optional samples.
func Float(v float64) *float64 {
	return &v
}

// Floats converts a literal slice into present samples.
func Floats(vs ...float64) []*float64 {
	out := make([]*float64, len(vs))
	for i := range vs {
		out[i] = Float(vs[i])
	}
	return out
}
