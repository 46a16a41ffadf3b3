package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kubilitics/cop-analytics/internal/models"
)

// MonthDocument is one month of series in a File document.
type MonthDocument struct {
	Category string                   `json:"category"`
	Unit     string                   `json:"unit"`
	Year     int                      `json:"year"`
	Month    int                      `json:"month"`
	Series   []models.ParameterSeries `json:"series"`
}

// FileDocument is the JSON layout read by File.
type FileDocument struct {
	Months []MonthDocument `json:"months"`
}

// File serves series from a JSON document, for offline analysis.
type File struct {
	doc FileDocument
}

// LoadFile reads and parses path.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var doc FileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &File{doc: doc}, nil
}

// NewFile serves doc.
func NewFile(doc FileDocument) *File {
	return &File{doc: doc}
}

// Months returns the queries the document can answer.
func (f *File) Months() []models.MonthQuery {
	out := make([]models.MonthQuery, 0, len(f.doc.Months))
	for _, m := range f.doc.Months {
		out = append(out, m.query())
	}
	return out
}

// LoadMonth implements SeriesSource. Series shorter than the month are
// padded with absent days. A month missing from the document yields no
// series.
func (f *File) LoadMonth(_ context.Context, q models.MonthQuery) ([]models.ParameterSeries, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	for _, m := range f.doc.Months {
		mq := m.query()
		if !strings.EqualFold(strings.TrimSpace(mq.Category), strings.TrimSpace(q.Category)) ||
			!strings.EqualFold(strings.TrimSpace(mq.Unit), strings.TrimSpace(q.Unit)) ||
			mq.Year != q.Year || mq.Month != q.Month {
			continue
		}
		days := q.DaysInMonth()
		out := make([]models.ParameterSeries, len(m.Series))
		for i, s := range m.Series {
			values, err := fitMonth(s.Values, days)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %w", s.Parameter.ID, err)
			}
			out[i] = models.ParameterSeries{Parameter: s.Parameter, Values: values}
		}
		return out, nil
	}
	return []models.ParameterSeries{}, nil
}

func (m MonthDocument) query() models.MonthQuery {
	return models.MonthQuery{Category: m.Category, Unit: m.Unit, Year: m.Year, Month: time.Month(m.Month)}
}
