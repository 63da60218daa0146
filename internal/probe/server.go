// Package probe exposes the daemon's readiness over the standard gRPC health
// protocol and checks it from the command line.
package probe

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/danielpatrickdp/mutation-gate/internal/band"
)

// ServiceName is the health service reporting whether proposals can be
// admitted right now.
const ServiceName = "mutation_gate.Admission"

// Status is a health status in words.
type Status string

const (
	Serving    Status = "SERVING"
	NotServing Status = "NOT_SERVING"
	Unknown    Status = "UNKNOWN"
)

func statusOf(s healthpb.HealthCheckResponse_ServingStatus) Status {
	switch s {
	case healthpb.HealthCheckResponse_SERVING:
		return Serving
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return NotServing
	}
	return Unknown
}

// #region server
// Server tracks the server status and the admission service status.
type Server struct {
	hs *health.Server
}

// NewServer starts with both statuses NOT_SERVING.
func NewServer() *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{hs: hs}
}

// Register attaches the health service to s.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.hs)
}

// SetReady marks the server SERVING.
func (s *Server) SetReady() {
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Update reports the admission service NOT_SERVING while the latest band
// sample is HardStop.
func (s *Server) Update(series band.Series) Status {
	st := healthpb.HealthCheckResponse_SERVING
	if series.IsHardStop() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus(ServiceName, st)
	return statusOf(st)
}

// Watch calls Update from history every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, history *band.History, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		s.Update(history.Snapshot())
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Shutdown marks everything NOT_SERVING and ignores later updates.
func (s *Server) Shutdown() {
	s.hs.Shutdown()
}

// Check answers a health check in-process.
func (s *Server) Check(ctx context.Context, service string) (Status, error) {
	resp, err := s.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return statusOf(resp.GetStatus()), nil
}

// #endregion server
