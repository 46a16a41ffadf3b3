package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/models"
	"github.com/kubilitics/cop-analytics/internal/source"
)

type analyzeOptions struct {
	file     string
	category string
	unit     string
	year     int
	month    int
	compact  bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze --file readings.json",
		Short: "Compute monthly reports from a JSON readings file",
		Long: `Compute monthly reports offline from a JSON document of parameter series.
Every month in the file is analysed unless --category, --unit, --year or
--month narrow the selection.`,
		Example: `  cop-analytics analyze --file march.json
  cop-analytics analyze --file plant.json --unit kiln-1 --year 2024 --month 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.analyze(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON readings document")
	cmd.Flags().StringVar(&opts.category, "category", "", "only analyse this category")
	cmd.Flags().StringVar(&opts.unit, "unit", "", "only analyse this unit")
	cmd.Flags().IntVar(&opts.year, "year", 0, "only analyse this year")
	cmd.Flags().IntVar(&opts.month, "month", 0, "only analyse this month (1-12)")
	cmd.Flags().BoolVar(&opts.compact, "compact", false, "print compact JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (a *app) analyze(ctx context.Context, opts *analyzeOptions) error {
	if opts.month < 0 || opts.month > 12 {
		return fmt.Errorf("--month must be between 1 and 12, got %d", opts.month)
	}

	file, err := source.LoadFile(opts.file)
	if err != nil {
		return err
	}

	var selected []models.MonthQuery
	for _, q := range file.Months() {
		if opts.matches(q) {
			selected = append(selected, q)
		}
	}
	if len(selected) == 0 {
		return fmt.Errorf("no months in %s match the selection", opts.file)
	}

	agg := analytics.NewAggregator(analytics.Options{
		Source: file,
		Logger: zap.NewNop(),
	})

	reports := make([]*analytics.Report, 0, len(selected))
	for _, q := range selected {
		report, err := agg.MonthlyReport(ctx, q)
		if err != nil {
			return fmt.Errorf("%s: %w", q, err)
		}
		reports = append(reports, report)
	}

	enc := json.NewEncoder(a.stdout)
	if !opts.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(reports)
}

func (o *analyzeOptions) matches(q models.MonthQuery) bool {
	if o.category != "" && !strings.EqualFold(strings.TrimSpace(o.category), q.Category) {
		return false
	}
	if o.unit != "" && !strings.EqualFold(strings.TrimSpace(o.unit), q.Unit) {
		return false
	}
	if o.year != 0 && o.year != q.Year {
		return false
	}
	if o.month != 0 && time.Month(o.month) != q.Month {
		return false
	}
	return true
}
