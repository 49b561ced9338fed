package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name clients can query besides "".
const ServiceName = "assetvault.Storage"

// ReadyFunc reports whether the process can serve requests.
type ReadyFunc func(ctx context.Context) error

// NewGRPCServer builds a gRPC server exposing the standard health service
// and reflection. Statuses start NOT_SERVING until WatchHealth reports ready.
func NewGRPCServer(log *slog.Logger) (*grpc.Server, *health.Server) {
	ic := NewInterceptors(log)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(ic.Unary),
		grpc.ChainStreamInterceptor(ic.Stream),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	reflection.Register(srv)
	return srv, hs
}

// WatchHealth calls ready every interval and mirrors the result into hs
// until ctx is done, then marks everything NOT_SERVING for shutdown.
func WatchHealth(ctx context.Context, hs *health.Server, ready ReadyFunc, interval time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		defer cancel()

		st := healthpb.HealthCheckResponse_SERVING
		if err := ready(checkCtx); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			if last != st {
				log.Warn("readiness check failed", slog.String("err", err.Error()))
			}
		}
		if st != last {
			hs.SetServingStatus("", st)
			hs.SetServingStatus(ServiceName, st)
			last = st
		}
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			check()
		}
	}
}
