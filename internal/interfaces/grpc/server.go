package grpc

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/turtacn/taskgate/pkg/logger"
)

// Server wraps a grpc.Server with the task service and the standard health service.
type Server struct {
	server *grpc.Server
	health *health.Server
	log    logger.Logger
}

// NewServer registers svc behind the interceptor chain.
func NewServer(svc TaskServiceServer, log logger.Logger, opts ...grpc.ServerOption) *Server {
	ic := NewInterceptorChain(log)
	opts = append([]grpc.ServerOption{ic.ChainUnaryInterceptors()}, opts...)
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&TaskServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(TaskServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	return &Server{server: gs, health: hs, log: log}
}

// Serve blocks until the listener fails or Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info(context.Background(), "Starting gRPC server", logger.String("address", lis.Addr().String()))
	return s.server.Serve(lis)
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
