package source

import (
	"context"
	"errors"

	"github.com/kubilitics/cop-analytics/internal/models"
)

// Package source loads the upstream daily parameter series that monthly
// reports are computed from.

// ErrSeriesTooLong is returned when a series holds more samples than the
// month has days.
var ErrSeriesTooLong = errors.New("series longer than month")

// SeriesSource loads the series of every parameter in a category and plant
// unit for one month. Each returned series has one slot per calendar day.
type SeriesSource interface {
	LoadMonth(ctx context.Context, q models.MonthQuery) ([]models.ParameterSeries, error)
}

// fitMonth pads values with absent samples up to days.
func fitMonth(values []*float64, days int) ([]*float64, error) {
	if len(values) > days {
		return nil, ErrSeriesTooLong
	}
	out := make([]*float64, days)
	copy(out, values)
	return out, nil
}
