package api

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported for the chat service.
const ServiceName = "chatd.Chat"

// NewGRPCHealthServer returns a gRPC server exposing the standard health
// service, plus the health server so callers can drive its status.
func NewGRPCHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return srv, hs
}

// RunHealthProbe updates hs from h every interval until ctx is done, then
// marks every service NOT_SERVING.
func RunHealthProbe(ctx context.Context, hs *health.Server, h *HealthHandler, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if _, ok := h.Probe(ctx); !ok {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("gRPC health probe stopped")
			hs.Shutdown()
			return
		case <-ticker.C:
			update()
		}
	}
}
