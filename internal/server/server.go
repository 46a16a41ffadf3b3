package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kubilitics/cop-analytics/internal/analytics"
	"github.com/kubilitics/cop-analytics/internal/cache"
	"github.com/kubilitics/cop-analytics/internal/db"
	"github.com/kubilitics/cop-analytics/internal/events"
)

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

// Options wires the server to its collaborators. Nil collaborators disable
// the endpoints that need them (they answer 503).
type Options struct {
	Aggregator *analytics.Aggregator
	// AdhocCache memoises ad-hoc analysis responses for AdhocTTL.
	AdhocCache *cache.Typed[json.RawMessage]
	AdhocTTL   time.Duration
	Anomalies  db.AnomalyStore
	Events     events.Subscriber

	ReadyChecks map[string]ReadyCheck

	AllowedOrigins    []string
	RequestsPerMinute int
	Logger            *zap.Logger
}

// Server is the COP analytics HTTP API.
type Server struct {
	opts    Options
	router  *mux.Router
	handler http.Handler
	logger  *zap.Logger
}

// New builds the router and middleware chain.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.AdhocTTL <= 0 {
		opts.AdhocTTL = 30 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		logger: opts.Logger.Named("http"),
	}
	s.routes()

	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	if opts.RequestsPerMinute > 0 {
		s.router.Use(newRateLimiter(opts.RequestsPerMinute).middleware)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/analytics/stats", s.handleStats).Methods(http.MethodPost)
	api.HandleFunc("/analytics/anomalies", s.handleAnomalies).Methods(http.MethodPost)
	api.HandleFunc("/analytics/correlation", s.handleCorrelation).Methods(http.MethodPost)
	api.HandleFunc("/analytics/normalize", s.handleNormalize).Methods(http.MethodPost)
	api.HandleFunc("/analytics/qaf", s.handleQAF).Methods(http.MethodPost)
	api.HandleFunc("/analytics/analyze", s.handleAnalyze).Methods(http.MethodPost)

	api.HandleFunc("/cop/{category}/{unit}/{year:[0-9]+}/{month:[0-9]+}", s.handleMonthlyReport).Methods(http.MethodGet)
	api.HandleFunc("/cop/{category}/{unit}/{year:[0-9]+}/{month:[0-9]+}/cache", s.handleInvalidate).Methods(http.MethodDelete)
	api.HandleFunc("/anomalies", s.handleAnomalyHistory).Methods(http.MethodGet)

	api.HandleFunc("/events/ws", s.handleEventsWS).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves on addr until ctx is done, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.opts.ReadyChecks))
	ready := true
	for name, check := range s.opts.ReadyChecks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}
	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	respondJSON(w, status, map[string]any{"status": state, "checks": checks})
}

// respondJSON encodes data before writing the status, so a value that cannot
// be encoded turns into a 500 instead of an empty body.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
