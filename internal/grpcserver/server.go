// Package grpcserver exposes the standard gRPC health service for the chat service.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-chat/internal/observability"
)

// Server wraps a grpc.Server carrying the health service.
type Server struct {
	addr   string
	server *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// New builds the server; serviceName is reported alongside the overall status.
func New(addr, serviceName string, logger *zap.Logger) *Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{addr: addr, server: srv, health: hs, logger: logger}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() (net.Addr, error) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("grpc health server listening", zap.String("addr", lis.Addr().String()))
	return lis.Addr(), nil
}

// Stop marks the service as not serving and drains in-flight calls until ctx ends.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}
