package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"actionit/backend/conversation/grpc"
	"actionit/backend/pkg/config"
	"actionit/backend/pkg/di"
	"actionit/backend/pkg/logger"
	"actionit/backend/pkg/router"
	"actionit/backend/pkg/secrets"
	"actionit/backend/shared/observability"
)

func main() {
	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig).With("service", cfg.Observability.ServiceName)
	logger.SetGlobal(log)

	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sm, err := secrets.Init(log)
	if err != nil {
		log.LogError(err, "Failed to initialize secrets manager")
		os.Exit(1)
	}
	cfg.Database.Password = sm.GetSecretWithDefault(ctx, "db-password", cfg.Database.Password)

	if cfg.Observability.TracingEnabled {
		shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, nil)
		if err != nil {
			log.LogError(err, "Failed to set up tracing")
		} else {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(flushCtx)
			}()
		}
	}
	if cfg.Observability.MetricsEnabled {
		if _, err := observability.SetupPrometheusMetrics(); err != nil {
			log.LogError(err, "Failed to set up metrics bridge")
		}
	}

	db, err := config.NewDB(cfg)
	if err != nil {
		log.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	container, err := di.New(ctx, cfg, db, log, sm)
	if err != nil {
		log.LogError(err, "Failed to initialize dependency container")
		os.Exit(1)
	}
	defer container.Close()

	go container.Hub.Run(ctx)

	grpcServer := grpc.NewServer(log)
	container.Health.OnChange(grpcServer.SetServing)
	container.Health.Start(ctx)
	go func() {
		if err := grpcServer.Serve(ctx, net.JoinHostPort("", cfg.Server.GRPCPort)); err != nil {
			log.LogError(err, "gRPC server stopped")
		}
	}()

	r := router.New(container)
	r.SetupRoutes()
	defer r.Close()

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           r.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogError(err, "Server failed to start")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}

	log.Info("Server exited gracefully")
}
