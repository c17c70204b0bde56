package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported by the health endpoint next to the
// overall ("") status.
const ServiceName = "gathering.AccessControl"

// Pinger reports store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthServer serves grpc.health.v1.Health with a status derived from
// periodic store pings.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	store  Pinger
	log    zerolog.Logger
}

func NewHealthServer(store Pinger, log zerolog.Logger) *HealthServer {
	hs := &HealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		store:  store,
		log:    log,
	}
	healthpb.RegisterHealthServer(hs.srv, hs.health)
	hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

func (hs *HealthServer) set(st healthpb.HealthCheckResponse_ServingStatus) {
	hs.health.SetServingStatus("", st)
	hs.health.SetServingStatus(ServiceName, st)
}

// Probe pings the store once and updates the reported status.
func (hs *HealthServer) Probe(ctx context.Context) {
	if err := hs.store.Ping(ctx); err != nil {
		hs.log.Warn().Err(err).Msg("store ping failed, reporting NOT_SERVING")
		hs.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	hs.set(healthpb.HealthCheckResponse_SERVING)
}

// Serve probes the store every interval and serves health checks on lis
// until the listener fails or the server is stopped.
func (hs *HealthServer) Serve(lis net.Listener, interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			hs.Probe(ctx)
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return hs.srv.Serve(lis)
}

// StartHealth starts the health server on addr and returns a shutdown function.
func StartHealth(addr string, store Pinger, log zerolog.Logger) (func(context.Context) error, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	hs := NewHealthServer(store, log)
	go func() {
		if err := hs.Serve(lis, 5*time.Second); err != nil {
			log.Error().Err(err).Msg("grpc health server stopped")
		}
	}()

	return func(ctx context.Context) error {
		hs.health.Shutdown()
		done := make(chan struct{})
		go func() { hs.srv.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			hs.srv.Stop()
			return ctx.Err()
		}
	}, nil
}
