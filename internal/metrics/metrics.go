package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// COP analytics service metrics
var (
	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_cache_hits_total",
			Help: "Total number of result cache hits",
		},
		[]string{"backend"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_cache_misses_total",
			Help: "Total number of result cache misses",
		},
		[]string{"backend"},
	)

	// Report metrics
	ReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_reports_total",
			Help: "Total number of monthly reports served",
		},
		[]string{"result"}, // result: cached/computed/error
	)

	ReportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cop_analytics_report_duration_seconds",
			Help:    "Monthly report computation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"result"},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_anomalies_detected_total",
			Help: "Total number of outliers found in computed reports",
		},
		[]string{"severity"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cop_analytics_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Change event metrics
	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_change_events_total",
			Help: "Total number of upstream change events received",
		},
		[]string{"collection", "op"},
	)

	ChangeEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cop_analytics_change_events_dropped_total",
			Help: "Change events dropped because a subscriber was not keeping up",
		},
		[]string{"collection"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cop_analytics_websocket_clients",
			Help: "Number of connected change feed clients",
		},
	)
)

// CacheObserver reports cache hits and misses to Prometheus.
type CacheObserver struct{}

// CacheHit implements cache.Observer.
func (CacheObserver) CacheHit(backend string) { CacheHits.WithLabelValues(backend).Inc() }

// CacheMiss implements cache.Observer.
func (CacheObserver) CacheMiss(backend string) { CacheMisses.WithLabelValues(backend).Inc() }
