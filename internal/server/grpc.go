package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Health service names reported by the gRPC health server.
const (
	HealthServiceReports = "cop.analytics.Reports"
	HealthServiceEvents  = "cop.analytics.Events"
)

// HealthServer exposes grpc.health.v1 so orchestrators can probe the
// service over gRPC.
type HealthServer struct {
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewHealthServer creates a gRPC server with the health and reflection
// services registered. Everything starts SERVING.
func NewHealthServer(logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthServiceReports, grpc_health_v1.HealthCheckResponse_SERVING)

	return &HealthServer{server: s, health: hs, logger: logger.Named("grpc")}
}

// SetServing updates the status of one service.
func (h *HealthServer) SetServing(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Serve accepts on lis until ctx is done, then stops gracefully.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("gRPC health server listening", zap.String("addr", lis.Addr().String()))
		errCh <- h.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	h.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		h.logger.Info("gRPC server stopped gracefully")
	case <-time.After(5 * time.Second):
		h.logger.Warn("gRPC server forced to stop after timeout")
		h.server.Stop()
	}
	return nil
}
