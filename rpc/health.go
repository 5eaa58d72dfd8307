package rpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/werewolfserver/logger"
)

// HealthServer answers the standard gRPC health protocol for the overall
// server ("") and for ServiceName.
type HealthServer struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
}

func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	hs := health.NewServer()
	gs := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &HealthServer{listener: listener, grpc: gs, health: hs}, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

// Start blocks serving until Stop.
func (h *HealthServer) Start() error {
	logger.Log.Infof("gRPC health server listening on %s", h.Addr())
	return h.grpc.Serve(h.listener)
}

// SetNotServing flips every service to NOT_SERVING so load balancers drain.
func (h *HealthServer) SetNotServing() {
	h.health.Shutdown()
}

func (h *HealthServer) Stop() {
	h.SetNotServing()
	h.grpc.GracefulStop()
}
