package main

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/opscore/orchestrator/internal/observability"
)

// grpcHealthServer runs a minimal gRPC surface on cfg.Server.GRPCPort: the
// standard grpc_health_v1 health service plus reflection, so operators and
// infra (k8s gRPC probes, grpcurl) have a dialable health check independent
// of the HTTP /healthz endpoint. No other gRPC-native service is
// registered yet; a job-control RPC surface can share this same server.
type grpcHealthServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
}

const grpcHealthServiceName = "orchestratord"

func newGRPCHealthServer(host string, port int) *grpcHealthServer {
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(grpcHealthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	return &grpcHealthServer{
		server: grpcServer,
		health: healthSrv,
		addr:   fmt.Sprintf("%s:%d", host, port),
	}
}

func (g *grpcHealthServer) start(ctx context.Context, logger *observability.Logger) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", g.addr, err)
	}
	go func() {
		logger.Info(ctx, "orchestratord grpc health server listening", "addr", g.addr)
		if err := g.server.Serve(lis); err != nil {
			logger.Error(ctx, "grpc health server exited", "error", err)
		}
	}()
	return nil
}

// stop gracefully drains in-flight health/reflection RPCs before returning.
func (g *grpcHealthServer) stop() {
	g.health.SetServingStatus(grpcHealthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	g.server.GracefulStop()
}
