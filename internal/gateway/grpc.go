// ABOUTME: gRPC server carrying the standard health service for supervisors
// ABOUTME: Serving status follows the store reachability seen by the readiness check

package gateway

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall status.
const ServiceName = "parley.Gateway"

// newHealthServer creates a gRPC server with the health service registered.
func newHealthServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// SetServing flips the reported health status.
func (g *Gateway) SetServing(serving bool) {
	if g.health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}
