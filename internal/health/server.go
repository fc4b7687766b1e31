// Package health exposes capture liveness over the standard gRPC health
// protocol on a unix socket.
package health

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceCapture is SERVING while the capture session is recording.
const ServiceCapture = "hotcap.capture"

// Server owns the health listener and gRPC server.
type Server struct {
	path     string
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
	logger   *slog.Logger
}

// Listen binds path, replacing any leftover socket file. The caller must
// already be the single daemon owner.
func Listen(path string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ensure health socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale health socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", path, err)
	}
	_ = os.Chmod(path, 0o600)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceCapture, healthpb.HealthCheckResponse_NOT_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{path: path, listener: listener, grpc: gs, health: hs, logger: logger}, nil
}

// Serve blocks until Close.
func (s *Server) Serve() error {
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve health: %w", err)
	}
	return nil
}

// SetCapturing flips the capture service status.
func (s *Server) SetCapturing(recording bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if recording {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceCapture, status)
	s.logger.Debug("health status updated", "service", ServiceCapture, "status", status.String())
}

// Close marks every service NOT_SERVING, stops the server, and removes the socket.
func (s *Server) Close() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("remove health socket failed", "path", s.path, "error", err.Error())
	}
}
