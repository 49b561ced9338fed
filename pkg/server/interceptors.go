package server

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Interceptors logs and recovers gRPC calls with one logger.
type Interceptors struct {
	log *slog.Logger
}

func NewInterceptors(log *slog.Logger) *Interceptors {
	if log == nil {
		log = slog.Default()
	}
	return &Interceptors{log: log}
}

// Unary logs every unary call, after recovering panics into codes.Internal.
func (i *Interceptors) Unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(r)
		}
		i.logRPC("Unary", info.FullMethod, time.Since(start), err)
	}()
	return handler(ctx, req)
}

// Stream does the same for streaming calls (health Watch).
func (i *Interceptors) Stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = i.recoverFromPanic(r)
		}
		i.logRPC("Stream", info.FullMethod, time.Since(start), err)
	}()
	return handler(srv, ss)
}

func (i *Interceptors) logRPC(kind, method string, duration time.Duration, err error) {
	code := status.Code(err)

	level := slog.LevelDebug
	switch code {
	case codes.OK, codes.Canceled:
	case codes.Internal, codes.Unknown:
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	i.log.Log(context.Background(), level, "gRPC request",
		slog.String("kind", kind),
		slog.String("method", method),
		slog.String("code", code.String()),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (i *Interceptors) recoverFromPanic(p any) error {
	i.log.Error("panic recovered",
		slog.Any("panic", p),
		slog.String("stack", string(debug.Stack())),
	)
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
