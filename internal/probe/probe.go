// Package probe exposes backend reachability over the standard gRPC health
// service.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// BackendService is the health service name reporting backend reachability.
const BackendService = "autostream.backend"

const checkTimeout = 5 * time.Second

// Checker reports backend health.
type Checker interface {
	Health(ctx context.Context) (*backend.Health, error)
}

// Server serves grpc.health.v1 and keeps it in sync with the backend.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	checker  Checker
	interval time.Duration
	logger   *slog.Logger
}

// New creates a probe server. It reports NOT_SERVING until the first check.
func New(checker Checker, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(BackendService, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpc:     gs,
		health:   hs,
		checker:  checker,
		interval: interval,
		logger:   logger,
	}
}

// Check polls the backend once and updates the serving status.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	h, err := s.checker.Health(ctx)
	if err != nil {
		s.logger.Warn("Backend health check failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	} else if h.Status != "healthy" {
		s.logger.Warn("Backend reported unhealthy", "status", h.Status)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(BackendService, status)
	return status
}

// Serve listens on addr and polls the backend until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, lis)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	go s.poll(ctx)
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	s.logger.Info("gRPC health probe listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serve health probe: %w", err)
	}
	return nil
}

func (s *Server) poll(ctx context.Context) {
	s.Check(ctx)
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
