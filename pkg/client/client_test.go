package client

import (
	"context"
	"net"
	"testing"
	"time"

	"assetvault/pkg/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestClient_Serving(t *testing.T) {
	srv, hs := server.NewGRPCServer(nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx := context.Background()
	ok, err := c.Serving(ctx, server.ServiceName)
	require.NoError(t, err)
	assert.False(t, ok)

	go func() {
		time.Sleep(50 * time.Millisecond)
		hs.SetServingStatus(server.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitServing(waitCtx, server.ServiceName, 10*time.Millisecond))
}

func TestClient_WaitServingTimesOut(t *testing.T) {
	c, err := New("127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = c.WaitServing(ctx, "", 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
