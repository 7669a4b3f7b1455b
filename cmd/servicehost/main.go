// Package main implements the gridservices service host.
// The host loads every stored service configuration, drives the services from
// the sampler's ticks and serves the registry over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HatiCode/gridservices/cmd/servicehost/config"
	"github.com/HatiCode/gridservices/cmd/servicehost/grpcapi"
	"github.com/HatiCode/gridservices/cmd/servicehost/logger"
	"github.com/HatiCode/gridservices/cmd/servicehost/metrics"
	"github.com/HatiCode/gridservices/cmd/servicehost/router"
	"github.com/HatiCode/gridservices/cmd/servicehost/store"
	"github.com/HatiCode/gridservices/pkg/adapters"
	"github.com/HatiCode/gridservices/pkg/features"
	"github.com/HatiCode/gridservices/pkg/httpx"
	"github.com/HatiCode/gridservices/pkg/sampler"
	"github.com/HatiCode/gridservices/pkg/services"
)

func main() {
	cfg := config.ParseFlags()

	log := logger.New(cfg)
	slog.SetDefault(log)
	m := metrics.New(nil)

	log.Info("starting gridservices service host",
		"version", "v0.1.0",
		"listen", cfg.Listen,
		"grpc_listen", cfg.GRPCListen,
		"storage", cfg.Storage,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	opts := []services.Option{
		services.WithLogger(log),
		services.WithObserver(m),
		services.WithCacheObserver(m),
		services.WithKeyPrefix(cfg.KeyPrefix),
	}
	if cfg.PromURL != "" {
		adapter := &adapters.PrometheusAdapter{
			ServerURL:   cfg.PromURL,
			StepSeconds: int(cfg.PromStep.Seconds()),
		}
		var srcOpts []features.SourceOption
		if cfg.GapFill {
			srcOpts = append(srcOpts, features.WithGapFill())
		}
		source := features.NewSource(adapter, features.NewBuilder(features.DefaultStepSeconds), srcOpts...)
		opts = append(opts, services.WithSignalSource(source))
	} else {
		log.Warn("no prometheus url configured, load monitoring services will fail to refresh")
	}

	smp := sampler.New(
		sampler.WithInterval(cfg.PollInterval),
		sampler.WithLogger(log),
	)
	manager := services.NewManager(backend, smp, opts...)

	mux := router.SetupRoutes(manager, nil, log)
	handler := httpx.Wrap(mux, log)
	httpServer := httpx.NewServer(cfg.Listen, handler, log)

	serverErr := make(chan error, 2)
	go func() {
		serverErr <- httpServer.Start()
	}()

	grpcServer, healthServer := grpcapi.New(manager, m, log)
	if cfg.GRPCListen != "" {
		lis, err := net.Listen("tcp", cfg.GRPCListen)
		if err != nil {
			log.Error("failed to listen", "address", cfg.GRPCListen, "error", err)
			os.Exit(1)
		}
		go func() {
			log.Info("grpc server listening", "address", cfg.GRPCListen)
			serverErr <- grpcServer.Serve(lis)
		}()
	}

	if err := manager.Init(ctx); err != nil {
		log.Error("service manager init failed", "error", err)
		os.Exit(1)
	}
	grpcapi.SetServing(healthServer)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
	}

	log.Info("shutting down")
	cancel()

	grpcServer.GracefulStop()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		log.Error("http server shutdown failed", "error", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := manager.Close(closeCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("service manager shutdown failed", "error", err)
	} else if err != nil {
		log.Warn("in-flight refreshes still running at shutdown")
	}

	log.Info("shutdown complete")
}
