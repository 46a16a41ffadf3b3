package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/cop-analytics/internal/models"
)

func newTestSQL(t *testing.T) *SQL {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema(ctx))
	require.NoError(t, s.EnsureSchema(ctx), "schema must be idempotent")
	return s
}

func seed(t *testing.T, s *SQL) {
	t.Helper()
	s.db.MustExec(`INSERT INTO parameters (id, name, unit, category, plant_unit, min_value, max_value, sort_order) VALUES
		('p-temp', 'Kiln Temp', 'C',   'COP', 'kiln-1', 1400, 1500, 2),
		('p-o2',   'O2',        '%',   'COP', 'kiln-1', 1,    3,    1),
		('p-free', 'Free Lime', '%',   'COP', 'kiln-1', NULL, NULL, 1),
		('p-other','Other',     'bar', 'COP', 'kiln-2', 0,    1,    0)`)
	s.db.MustExec(`INSERT INTO parameter_readings (parameter_id, reading_date, value) VALUES
		('p-temp', '2024-02-29', 1000),
		('p-temp', '2024-03-01', 1450),
		('p-temp', '2024-03-05', 1440),
		('p-temp', '2024-03-05', 1460),
		('p-temp', '2024-03-06', NULL),
		('p-temp', '2024-03-31', 1480),
		('p-temp', '2024-04-01', 9999),
		('p-o2',   '2024-03-02', 2.5),
		('p-other','2024-03-02', 0.5)`)
}

func TestLoadMonth(t *testing.T) {
	s := newTestSQL(t)
	seed(t, s)

	series, err := s.LoadMonth(context.Background(), models.MonthQuery{Category: "COP", Unit: "kiln-1", Year: 2024, Month: time.March})
	require.NoError(t, err)
	require.Len(t, series, 3)

	// sort_order, then name
	assert.Equal(t, "p-free", series[0].Parameter.ID)
	assert.Equal(t, "p-o2", series[1].Parameter.ID)
	assert.Equal(t, "p-temp", series[2].Parameter.ID)

	for _, ps := range series {
		assert.Len(t, ps.Values, 31)
	}

	free := series[0]
	assert.Nil(t, free.Parameter.MinValue)
	assert.Nil(t, free.Parameter.MaxValue)
	for _, v := range free.Values {
		assert.Nil(t, v)
	}

	temp := series[2]
	require.NotNil(t, temp.Parameter.MinValue)
	assert.Equal(t, 1400.0, *temp.Parameter.MinValue)
	assert.Equal(t, "kiln-1", temp.Parameter.PlantUnit)

	require.NotNil(t, temp.Values[0])
	assert.Equal(t, 1450.0, *temp.Values[0])
	require.NotNil(t, temp.Values[4])
	assert.Equal(t, 1450.0, *temp.Values[4], "same-day readings are averaged")
	assert.Nil(t, temp.Values[5], "null reading leaves the day absent")
	require.NotNil(t, temp.Values[30])
	assert.Equal(t, 1480.0, *temp.Values[30])

	present := 0
	for _, v := range temp.Values {
		if v != nil {
			present++
		}
	}
	assert.Equal(t, 3, present, "readings outside the month are excluded")

	o2 := series[1]
	require.NotNil(t, o2.Values[1])
	assert.Equal(t, 2.5, *o2.Values[1])
}

func TestLoadMonthLeapFebruary(t *testing.T) {
	s := newTestSQL(t)
	seed(t, s)

	series, err := s.LoadMonth(context.Background(), models.MonthQuery{Category: "COP", Unit: "kiln-1", Year: 2024, Month: time.February})
	require.NoError(t, err)
	require.Len(t, series, 3)
	temp := series[2]
	assert.Len(t, temp.Values, 29)
	require.NotNil(t, temp.Values[28])
	assert.Equal(t, 1000.0, *temp.Values[28])
}

func TestLoadMonthNoParameters(t *testing.T) {
	s := newTestSQL(t)
	seed(t, s)

	series, err := s.LoadMonth(context.Background(), models.MonthQuery{Category: "COP", Unit: "mill-9", Year: 2024, Month: time.March})
	require.NoError(t, err)
	assert.NotNil(t, series)
	assert.Empty(t, series)
}

func TestLoadMonthInvalidQuery(t *testing.T) {
	s := newTestSQL(t)
	_, err := s.LoadMonth(context.Background(), models.MonthQuery{Category: "COP", Unit: "kiln-1", Year: 2024, Month: 13})
	assert.Error(t, err)
}

func TestLoadMonthMissingSchema(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.LoadMonth(ctx, models.MonthQuery{Category: "COP", Unit: "kiln-1", Year: 2024, Month: time.March})
	assert.Error(t, err)
}

func TestReadingDateScan(t *testing.T) {
	var d readingDate
	require.NoError(t, d.Scan("2024-03-05"))
	assert.Equal(t, 5, time.Time(d).Day())

	require.NoError(t, d.Scan([]byte("2024-03-07 00:00:00")))
	assert.Equal(t, 7, time.Time(d).Day())

	require.NoError(t, d.Scan(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 9, time.Time(d).Day())

	assert.Error(t, d.Scan("yesterday"))
	assert.Error(t, d.Scan(42))
}

func TestLoadMonthMatchesNamesExactly(t *testing.T) {
	s := newTestSQL(t)
	seed(t, s)

	series, err := s.LoadMonth(context.Background(), models.MonthQuery{Category: "cop", Unit: "kiln-1", Year: 2024, Month: time.March})
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "scott/tiger", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
