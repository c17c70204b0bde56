package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type switchPinger struct{ down atomic.Bool }

func (p *switchPinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("store unreachable")
	}
	return nil
}

// newHealthClient serves hs over an in-memory listener and returns a client.
func newHealthClient(t *testing.T, hs *HealthServer) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 16)
	go func() { _ = hs.Serve(lis, time.Hour) }()
	t.Cleanup(hs.srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("health check %q: %v", service, err)
	}
	return resp.GetStatus()
}

func TestHealthServer_ReflectsStore(t *testing.T) {
	p := &switchPinger{}
	hs := NewHealthServer(p, zerolog.Nop())
	c := newHealthClient(t, hs)

	deadline := time.Now().Add(2 * time.Second)
	for checkStatus(t, c, ServiceName) != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatalf("health never reported SERVING")
		}
		time.Sleep(10 * time.Millisecond)
	}

	p.down.Store(true)
	hs.Probe(context.Background())
	if st := checkStatus(t, c, ""); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", st)
	}

	p.down.Store(false)
	hs.Probe(context.Background())
	if st := checkStatus(t, c, ""); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", st)
	}
}
