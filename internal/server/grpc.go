package server

import (
	"net"

	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// healthService is the name health checkers ask for. The empty name reports
// overall server health.
const healthService = "staffdesk.v1.Workflow"

// newGRPCServer registers health and reflection and marks the service
// serving. Call it before serveGRPC.
func (s *Server) newGRPCServer() {
	s.grpcServer = grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	reflection.Register(s.grpcServer)
	s.setServing(true)
}

func (s *Server) serveGRPC(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

func (s *Server) stopGRPC() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *Server) setServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ok {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(healthService, status)
}
