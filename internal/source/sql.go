package source

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/models"
)

// Schema creates the upstream tables. It is portable across the supported
// drivers and is used to bootstrap local and test databases.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS parameters (
    id          VARCHAR(64) PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    unit        VARCHAR(64) NOT NULL DEFAULT '',
    category    VARCHAR(64) NOT NULL,
    plant_unit  VARCHAR(64) NOT NULL,
    min_value   DOUBLE PRECISION NULL,
    max_value   DOUBLE PRECISION NULL,
    sort_order  INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS parameter_readings (
    parameter_id  VARCHAR(64) NOT NULL,
    reading_date  DATE NOT NULL,
    value         DOUBLE PRECISION NULL
)`,
}

// SQL reads parameters and readings with sqlx.
type SQL struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the upstream database.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQL, error) {
	if !slices.Contains(Drivers, driver) {
		return nil, fmt.Errorf("unsupported driver %q, must be one of: %s", driver, strings.Join(Drivers, ", "))
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == "sqlite" && dsn == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	return NewSQL(db, logger), nil
}

// NewSQL wraps an existing connection.
func NewSQL(db *sqlx.DB, logger *zap.Logger) *SQL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQL{db: db, logger: logger.Named("source")}
}

// EnsureSchema creates the upstream tables if they do not exist.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Ping verifies the connection.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection.
func (s *SQL) Close() error {
	return s.db.Close()
}

type parameterRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Unit      string          `db:"unit"`
	Category  string          `db:"category"`
	PlantUnit string          `db:"plant_unit"`
	MinValue  sql.NullFloat64 `db:"min_value"`
	MaxValue  sql.NullFloat64 `db:"max_value"`
}

type readingRow struct {
	ParameterID string          `db:"parameter_id"`
	ReadingDate readingDate     `db:"reading_date"`
	Value       sql.NullFloat64 `db:"value"`
}

// LoadMonth implements SeriesSource. Several readings of one parameter on
// the same day are averaged; days without a reading stay absent.
func (s *SQL) LoadMonth(ctx context.Context, q models.MonthQuery) ([]models.ParameterSeries, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var params []parameterRow
	err := s.db.SelectContext(ctx, &params, s.db.Rebind(`
SELECT id, name, unit, category, plant_unit, min_value, max_value
FROM parameters
WHERE category = ? AND plant_unit = ?
ORDER BY sort_order, name`), q.Category, q.Unit)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	if len(params) == 0 {
		s.logger.Debug("no parameters", zap.String("query", q.String()))
		return []models.ParameterSeries{}, nil
	}

	ids := make([]string, len(params))
	for i, p := range params {
		ids[i] = p.ID
	}
	start := q.Start()
	end := start.AddDate(0, 1, 0)

	query, args, err := sqlx.In(`
SELECT parameter_id, reading_date, value
FROM parameter_readings
WHERE parameter_id IN (?) AND reading_date >= ? AND reading_date < ?`,
		ids, start.Format(time.DateOnly), end.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("build readings query: %w", err)
	}
	var readings []readingRow
	if err := s.db.SelectContext(ctx, &readings, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}

	days := q.DaysInMonth()
	type acc struct {
		sum float64
		n   int
	}
	sums := make(map[string][]acc, len(params))
	for _, p := range params {
		sums[p.ID] = make([]acc, days)
	}
	for _, r := range readings {
		if !r.Value.Valid {
			continue
		}
		slots, ok := sums[r.ParameterID]
		d := time.Time(r.ReadingDate)
		if !ok || d.Year() != q.Year || d.Month() != q.Month {
			continue
		}
		slots[d.Day()-1].sum += r.Value.Float64
		slots[d.Day()-1].n++
	}

	out := make([]models.ParameterSeries, len(params))
	for i, p := range params {
		values := make([]*float64, days)
		for day, a := range sums[p.ID] {
			if a.n > 0 {
				values[day] = models.Float(a.sum / float64(a.n))
			}
		}
		out[i] = models.ParameterSeries{
			Parameter: models.Parameter{
				ID:        p.ID,
				Name:      p.Name,
				Unit:      p.Unit,
				Category:  p.Category,
				PlantUnit: p.PlantUnit,
				MinValue:  nullable(p.MinValue),
				MaxValue:  nullable(p.MaxValue),
			},
			Values: values,
		}
	}

	s.logger.Debug("loaded month",
		zap.String("query", q.String()),
		zap.Int("parameters", len(out)),
		zap.Int("readings", len(readings)))
	return out, nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return models.Float(v.Float64)
}

// readingDate scans DATE columns from any of the supported drivers: time
// values (postgres, sqlite), or text and bytes (mysql without parseTime).
type readingDate time.Time

func (d *readingDate) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*d = readingDate(v)
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("reading_date: unsupported type %T", src)
	}
}

func (d *readingDate) parse(s string) error {
	if len(s) >= len(time.DateOnly) {
		if t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)]); err == nil {
			*d = readingDate(t)
			return nil
		}
	}
	return fmt.Errorf("reading_date: cannot parse %q", s)
}
