package grpcserver

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/and161185/gamestats/internal/model"
)

// HealthStatus maps a monitoring report to a serving status. Error-level
// alerts mark the admin service NOT_SERVING until a cycle comes back clean.
func HealthStatus(rep model.HealthReport) healthpb.HealthCheckResponse_ServingStatus {
	if rep.HasErrors() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// ReportHealth returns a monitor callback that publishes each report to hs.
func ReportHealth(hs *health.Server) func(model.HealthReport) {
	return func(rep model.HealthReport) {
		hs.SetServingStatus(ServiceName, HealthStatus(rep))
	}
}
