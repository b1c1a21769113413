package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

// WorkerService is the health service name the scan worker reports under.
const WorkerService = "sentinel.ScanWorker"

// HealthServer exposes the standard gRPC health protocol for the scan worker.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    logger.Logger
}

// NewHealthServer starts in NOT_SERVING until SetServing(true).
func NewHealthServer(log logger.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(WorkerService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, log: log}
}

// SetServing flips both the overall and the worker service status.
func (h *HealthServer) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(WorkerService, status)
}

// Serve accepts on lis until ctx is cancelled.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		h.log.Info("gRPC health server listening", logger.String("addr", lis.Addr().String()))
		errCh <- h.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		h.health.Shutdown()
		h.srv.GracefulStop()
		return nil
	}
}

// ListenAndServe listens on addr and calls Serve.
func (h *HealthServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return h.Serve(ctx, lis)
}
