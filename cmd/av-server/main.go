package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"assetvault/pkg/app"
	"assetvault/pkg/client"
	"assetvault/pkg/config"
	"assetvault/pkg/server"

	"golang.org/x/sync/errgroup"
)

const healthInterval = 5 * time.Second

func main() {
	cfgFile := flag.String("config", "", "config file (default is $HOME/.av/config.yaml)")
	healthAddr := flag.String("healthcheck", "", "query the gRPC health service at `addr` and exit")
	flag.Parse()

	if *healthAddr != "" {
		if err := healthcheck(*healthAddr); err != nil {
			slog.Error("unhealthy", slog.String("addr", *healthAddr), slog.String("err", err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := run(*cfgFile); err != nil {
		slog.Error("server exited", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Config and core application
	if err := config.Load(cfgFile); err != nil {
		return err
	}
	application, err := app.NewApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()
	log := application.Logger
	cfg := application.Config

	// 2. HTTP
	httpSrv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.NewHandler(application.Items, server.Options{
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			Ready:          application.Ready,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 3. gRPC health
	grpcSrv, health := server.NewGRPCServer(log)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", slog.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("gRPC server listening", slog.String("addr", lis.Addr().String()))
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		server.WatchHealth(gctx, health, application.Ready, healthInterval, log)
		return nil
	})

	// 4. Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthcheck is meant for container health checks that lack a gRPC client.
func healthcheck(addr string) error {
	c, err := client.New(addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ok, err := c.Serving(ctx, server.ServiceName)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("service is not serving")
	}
	return nil
}
