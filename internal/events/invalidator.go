package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/models"
)

// ReportInvalidator drops cached reports for a month.
type ReportInvalidator interface {
	Invalidate(ctx context.Context, q models.MonthQuery) error
}

// Invalidator keeps cached reports consistent with upstream changes.
//
// A reading change invalidates the month of its date. A parameter change
// (bounds, name, ordering) has no date of its own, so it invalidates the
// current month of that unit; older months expire with their TTL.
type Invalidator struct {
	subscriber Subscriber
	reports    ReportInvalidator
	logger     *zap.Logger
	now        func() time.Time
}

// NewInvalidator creates an Invalidator.
func NewInvalidator(subscriber Subscriber, reports ReportInvalidator, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		subscriber: subscriber,
		reports:    reports,
		logger:     logger.Named("invalidator"),
		now:        time.Now,
	}
}

// Run blocks until ctx is done.
func (inv *Invalidator) Run(ctx context.Context) error {
	readings, err := inv.subscriber.Subscribe(ctx, CollectionReadings, nil)
	if err != nil {
		return err
	}
	params, err := inv.subscriber.Subscribe(ctx, CollectionParameters, nil)
	if err != nil {
		return err
	}

	for readings != nil || params != nil {
		select {
		case ev, ok := <-readings:
			if !ok {
				readings = nil
				continue
			}
			inv.handle(ctx, ev)
		case ev, ok := <-params:
			if !ok {
				params = nil
				continue
			}
			if ev.Date == "" {
				ev.Date = inv.now().UTC().Format(time.DateOnly)
			}
			inv.handle(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (inv *Invalidator) handle(ctx context.Context, ev ChangeEvent) {
	q, ok := ev.MonthQuery()
	if !ok {
		inv.logger.Debug("change event does not identify a month",
			zap.String("collection", ev.Collection), zap.String("parameter_id", ev.ParameterID))
		return
	}
	if err := inv.reports.Invalidate(ctx, q); err != nil {
		inv.logger.Warn("failed to invalidate report", zap.String("query", q.String()), zap.Error(err))
		return
	}
	inv.logger.Debug("report invalidated", zap.String("query", q.String()), zap.String("collection", ev.Collection))
}
