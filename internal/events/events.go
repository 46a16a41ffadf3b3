package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubilitics/cop-analytics/internal/models"
)

// Package events carries upstream data changes to whatever needs to react to
// them: cached report invalidation and the websocket change feed.

// Upstream collections.
const (
	CollectionParameters = "parameters"
	CollectionReadings   = "parameter_readings"
)

// Op is the kind of change.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent describes one changed upstream record.
type ChangeEvent struct {
	Collection  string    `json:"collection"`
	Op          Op        `json:"op"`
	Category    string    `json:"category,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Date        string    `json:"date,omitempty"` // YYYY-MM-DD of the reading
	ParameterID string    `json:"parameter_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Validate checks the fields every event must carry.
func (e ChangeEvent) Validate() error {
	if strings.TrimSpace(e.Collection) == "" {
		return fmt.Errorf("collection is required")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("invalid op %q", e.Op)
	}
	if e.Date != "" {
		if _, err := time.Parse(time.DateOnly, e.Date); err != nil {
			return fmt.Errorf("invalid date %q", e.Date)
		}
	}
	return nil
}

// MonthQuery returns the report month the event touches, if it names a
// category, unit and date.
func (e ChangeEvent) MonthQuery() (models.MonthQuery, bool) {
	if e.Category == "" || e.Unit == "" || e.Date == "" {
		return models.MonthQuery{}, false
	}
	d, err := time.Parse(time.DateOnly, e.Date)
	if err != nil {
		return models.MonthQuery{}, false
	}
	return models.MonthQuery{Category: e.Category, Unit: e.Unit, Year: d.Year(), Month: d.Month()}, true
}

// Predicate selects events. A nil Predicate matches everything.
type Predicate func(ChangeEvent) bool

// ForUnit matches events of one category and plant unit.
func ForUnit(category, unit string) Predicate {
	return func(e ChangeEvent) bool {
		return strings.EqualFold(e.Category, category) && strings.EqualFold(e.Unit, unit)
	}
}

// Subscriber streams change events. The returned channel is closed when ctx
// is done.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, pred Predicate) (<-chan ChangeEvent, error)
}
