// Package status exposes the indicator decision through the gRPC health
// service: "indicator" is SERVING while the indicator matches.
package status

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
	"github.com/GriffinCanCode/indicator-watch/internal/orchestrator"
	"github.com/GriffinCanCode/indicator-watch/internal/trace"
)

// Service is the health service name that mirrors the decision.
const Service = "indicator"

// Server serves the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a status server. The indicator starts NOT_SERVING.
func New() *Server {
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, health: hs}
}

// SetMatched updates the indicator status.
func (s *Server) SetMatched(matched bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if matched {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, st)
}

// Observe records a decision change; it fits server.WithObserver.
func (s *Server) Observe(e orchestrator.DecisionEvent) {
	s.SetMatched(e.Matched)
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	trace.Logger(ctx).Info("grpc status server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return apperrors.Wrap(err, apperrors.IO, "grpc serve")
	}
	return nil
}

// Stop marks every service NOT_SERVING and drains open calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
