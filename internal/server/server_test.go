package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/cache"
	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/events"
	"github.com/kubilitics/cop-analytics/internal/models"
	"github.com/kubilitics/cop-analytics/internal/source"
)

type stubSource struct {
	calls atomic.Int32
}

func (s *stubSource) LoadMonth(_ context.Context, q models.MonthQuery) ([]models.ParameterSeries, error) {
	s.calls.Add(1)
	values := make([]*float64, q.DaysInMonth())
	for i := range values {
		values[i] = models.Float(float64(i % 5))
	}
	return []models.ParameterSeries{{
		Parameter: models.Parameter{ID: "p1", Name: "Temp", MinValue: models.Float(0), MaxValue: models.Float(4)},
		Values:    values,
	}}, nil
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *stubSource) {
	t.Helper()
	src := &stubSource{}
	mem, err := cache.NewMemory(64)
	require.NoError(t, err)

	opts := Options{
		Aggregator: analytics.NewAggregator(analytics.Options{
			Source: src,
			Cache:  cache.NewTyped[analytics.Report](mem, cache.TypedOptions{Backend: "memory"}),
		}),
		AdhocCache: cache.NewTyped[json.RawMessage](mem, cache.TypedOptions{Backend: "memory", Compress: true}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts), src
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doRequest(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReady(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) {
		o.ReadyChecks = map[string]ReadyCheck{
			"source": func(context.Context) error { return nil },
		}
	})
	rr := doRequest(t, s.Handler(), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	s, _ = newTestServer(t, func(o *Options) {
		o.ReadyChecks = map[string]ReadyCheck{
			"source": func(context.Context) error { return errors.New("dial tcp: refused") },
		}
	})
	rr = doRequest(t, s.Handler(), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	doRequest(t, s.Handler(), http.MethodGet, "/health", "")
	rr := doRequest(t, s.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cop_analytics_http_requests_total")
}

func TestStatsEndpointCachesByBody(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := `{"values":[1,2,null,3,4]}`

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "miss", rr.Header().Get("X-Cache"))

	var got struct {
		Mean         *float64 `json:"mean"`
		Median       *float64 `json:"median"`
		Count        int      `json:"count"`
		Total        int      `json:"total"`
		Completeness float64  `json:"completeness"`
		Trend        string   `json:"trend"`
	}
	decodeBody(t, rr, &got)
	require.NotNil(t, got.Mean)
	assert.Equal(t, 2.5, *got.Mean)
	assert.Equal(t, 2.5, *got.Median)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, 5, got.Total)
	assert.InDelta(t, 80.0, got.Completeness, 1e-9)
	assert.Equal(t, "increasing", got.Trend)

	again := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", body)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, "hit", again.Header().Get("X-Cache"))
	assert.JSONEq(t, rr.Body.String(), again.Body.String())
}

func TestStatsEndpointBadBody(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", `{"values":[1,`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid request body")
}

func TestAnomaliesEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	values := make([]string, 0, 21)
	for i := 0; i < 20; i++ {
		values = append(values, "10")
	}
	values = append(values, "100")

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/anomalies",
		`{"values":[`+strings.Join(values, ",")+`]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got struct {
		Outliers []struct {
			Day   int     `json:"day"`
			Value float64 `json:"value"`
		} `json:"outliers"`
		Severity string `json:"severity"`
	}
	decodeBody(t, rr, &got)
	require.Len(t, got.Outliers, 1)
	assert.Equal(t, 21, got.Outliers[0].Day)
	assert.Equal(t, "medium", got.Severity)
}

func TestCorrelationEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/correlation",
		`{"a":[1,2,3,4],"b":[2,4,6,8]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got struct {
		Coefficient *float64 `json:"coefficient"`
		Strength    string   `json:"strength"`
		Pairs       int      `json:"pairs"`
	}
	decodeBody(t, rr, &got)
	require.NotNil(t, got.Coefficient)
	assert.InDelta(t, 1.0, *got.Coefficient, 1e-9)
	assert.Equal(t, "strong", got.Strength)
	assert.Equal(t, 4, got.Pairs)

	rr = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/correlation",
		`{"a":[1,2,3],"b":[1,2]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNormalizeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/normalize",
		`{"parameter":{"id":"p","name":"P","unit":"C","min_value":0,"max_value":200},"values":[100,null,300]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got struct {
		Percentages []*float64 `json:"percentages"`
	}
	decodeBody(t, rr, &got)
	require.Len(t, got.Percentages, 3)
	assert.Equal(t, 50.0, *got.Percentages[0])
	assert.Nil(t, got.Percentages[1])
	assert.Equal(t, 150.0, *got.Percentages[2])
}

func TestQAFEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/qaf",
		`{"series":[{"parameter":{"id":"a","min_value":0,"max_value":10},"values":[5,20]},
		            {"parameter":{"id":"b","min_value":0,"max_value":10},"values":[1,null]}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got struct {
		Monthly struct {
			InRange int `json:"in_range"`
			Counted int `json:"counted"`
		} `json:"monthly"`
	}
	decodeBody(t, rr, &got)
	assert.Equal(t, 2, got.Monthly.InRange)
	assert.Equal(t, 3, got.Monthly.Counted)

	rr = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/qaf",
		`{"series":[{"parameter":{"id":"a"},"values":[1,2]},{"parameter":{"id":"b"},"values":[1]}]}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) { o.Aggregator = nil })
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/analyze",
		`{"series":[{"parameter":{"id":"a","min_value":0,"max_value":10},"values":[1,2,3]},
		            {"parameter":{"id":"b","min_value":0,"max_value":10},"values":[3,2,1]}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got analytics.Report
	decodeBody(t, rr, &got)
	assert.Len(t, got.Parameters, 2)
	require.Len(t, got.Correlations, 1)
	require.NotNil(t, got.Correlations[0].Coefficient)
	assert.InDelta(t, -1.0, *got.Correlations[0].Coefficient, 1e-9)
}

func TestMonthlyReportEndpoint(t *testing.T) {
	s, src := newTestServer(t, nil)

	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/2", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got analytics.Report
	decodeBody(t, rr, &got)
	assert.Equal(t, 29, got.Days)
	assert.False(t, got.Cached)

	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/2", "")
	decodeBody(t, rr, &got)
	assert.True(t, got.Cached)
	assert.EqualValues(t, 1, src.calls.Load())

	rr = doRequest(t, s.Handler(), http.MethodDelete, "/api/v1/cop/COP/kiln-1/2024/2/cache", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/2", "")
	decodeBody(t, rr, &got)
	assert.False(t, got.Cached)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestMonthlyReportEndpointErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/13", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/march", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())

	rr = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/cop/COP/kiln-1/2024/3", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	s, _ = newTestServer(t, func(o *Options) { o.Aggregator = nil })
	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/kiln-1/2024/3", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAnomalyHistoryEndpoint(t *testing.T) {
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendAnomalies(context.Background(), []*db.AnomalyRecord{
		{RunID: "r1", Category: "COP", Unit: "kiln-1", Year: 2024, Month: 3, ParameterID: "p1", Day: 4, Value: 99, Deviation: 3.5, Severity: "medium", DetectedAt: time.Now()},
		{RunID: "r1", Category: "COP", Unit: "kiln-2", Year: 2024, Month: 3, ParameterID: "p2", Day: 5, Value: 1, Deviation: -3.1, Severity: "medium", DetectedAt: time.Now()},
	}))

	s, _ := newTestServer(t, func(o *Options) { o.Anomalies = store })
	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/anomalies?unit=kiln-1&year=2024", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var got struct {
		Anomalies []db.AnomalyRecord `json:"anomalies"`
		Total     int                `json:"total"`
	}
	decodeBody(t, rr, &got)
	assert.Equal(t, 1, got.Total)
	assert.Equal(t, "p1", got.Anomalies[0].ParameterID)

	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/anomalies?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	s, _ = newTestServer(t, nil)
	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/anomalies", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) { o.RequestsPerMinute = 2 })

	for i := 0; i < 2; i++ {
		rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", `{"values":[1]}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", `{"values":[1]}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// probes are exempt
	rr = doRequest(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, func(o *Options) { o.AllowedOrigins = []string{"https://plant.example.com"} })

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analytics/stats", nil)
	req.Header.Set("Origin", "https://plant.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "https://plant.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventsWebsocket(t *testing.T) {
	hub := events.NewHub(8, nil)
	defer hub.Close()
	s, _ := newTestServer(t, func(o *Options) { o.Events = hub })

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events/ws?collection=parameter_readings&unit=kiln-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(events.ChangeEvent{Collection: events.CollectionReadings, Op: events.OpInsert, Category: "COP", Unit: "kiln-2", Date: "2024-03-01"})
	hub.Publish(events.ChangeEvent{Collection: events.CollectionReadings, Op: events.OpInsert, Category: "COP", Unit: "kiln-1", Date: "2024-03-02"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "kiln-1", ev.Unit)
	assert.Equal(t, "2024-03-02", ev.Date)
}

func TestEventsWebsocketDisabled(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/events/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestOverflowingSeriesStillEncode(t *testing.T) {
	s, _ := newTestServer(t, nil)
	huge := `[1.7e308,1.7e308,1.7e308]`

	rr := doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/stats", `{"values":`+huge+`}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var summary struct {
		Mean   *float64 `json:"mean"`
		StdDev *float64 `json:"std_dev"`
		Max    *float64 `json:"max"`
		Trend  string   `json:"trend"`
	}
	decodeBody(t, rr, &summary)
	assert.Nil(t, summary.Mean)
	assert.Nil(t, summary.StdDev)
	require.NotNil(t, summary.Max)
	assert.Equal(t, 1.7e308, *summary.Max)
	assert.Equal(t, "insufficient", summary.Trend)

	rr = doRequest(t, s.Handler(), http.MethodPost, "/api/v1/analytics/analyze",
		`{"series":[{"parameter":{"id":"a","min_value":0,"max_value":1e308},"values":`+huge+`}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report analytics.Report
	decodeBody(t, rr, &report)
	require.Len(t, report.Parameters, 1)
	assert.Nil(t, report.Parameters[0].Stats.Mean)
	assert.Nil(t, report.Parameters[0].Normalized.AvgRaw)
}

func TestMonthlyReportOverflowingReadings(t *testing.T) {
	big := models.Float(1.7e308)
	file := source.NewFile(source.FileDocument{Months: []source.MonthDocument{{
		Category: "COP", Unit: "k1", Year: 2024, Month: 3,
		Series: []models.ParameterSeries{{
			Parameter: models.Parameter{ID: "p1", MinValue: models.Float(0), MaxValue: models.Float(1e308)},
			Values:    []*float64{big, big, big},
		}},
	}}})
	mem, err := cache.NewMemory(8)
	require.NoError(t, err)
	s, _ := newTestServer(t, func(o *Options) {
		o.Aggregator = analytics.NewAggregator(analytics.Options{
			Source: file,
			Cache:  cache.NewTyped[analytics.Report](mem, cache.TypedOptions{Backend: "memory"}),
		})
	})

	rr := doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/k1/2024/3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got analytics.Report
	decodeBody(t, rr, &got)
	assert.Equal(t, 31, got.Days)
	require.Len(t, got.Parameters, 1)
	assert.Nil(t, got.Parameters[0].Stats.Mean)
	assert.False(t, got.Cached)

	rr = doRequest(t, s.Handler(), http.MethodGet, "/api/v1/cop/COP/k1/2024/3", "")
	decodeBody(t, rr, &got)
	assert.True(t, got.Cached, "report with overflowed aggregates is cacheable")
}

func TestRespondJSONUnencodableValue(t *testing.T) {
	rr := httptest.NewRecorder()
	respondJSON(rr, http.StatusOK, map[string]float64{"v": math.Inf(1)})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"failed to encode response"}`, rr.Body.String())
}
