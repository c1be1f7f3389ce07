// Copyright (C) 2025 Omnilytics (engineering@omnilytics.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/omnilytics/omnilytics/pkg/logging"
	"github.com/omnilytics/omnilytics/services/analytics/cache"
	"github.com/omnilytics/omnilytics/services/analytics/cluster"
	"github.com/omnilytics/omnilytics/services/analytics/handlers"
	"github.com/omnilytics/omnilytics/services/analytics/routes"
	"github.com/omnilytics/omnilytics/services/analytics/storage"
)

const serviceName = "omnilytics-analytics"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analytics HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(); err != nil {
			fatal(err)
		}
	},
}

func runServer() error {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: serviceName,
		JSON:    cfg.Log.JSON,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	var tracerCleanup func(context.Context)
	if cfg.Otel.Enabled {
		cleanup, err := initTracer(cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("setup OTLP tracer: %w", err)
		}
		tracerCleanup = cleanup
		defer tracerCleanup(context.Background())
	}

	dbCfg := storage.DefaultConfig(cfg.Data.Dir)
	dbCfg.Logger = logger.Slog()
	db, err := storage.Open(dbCfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := storage.NewSalesStore(db)
	bumps := storage.NewBumpIndexStore(db)
	resolver := cluster.NewResolver(db)
	coordinator := cache.NewCoordinator(db, store, logger.Slog()).WithTTL(cfg.Cache.TTL())
	h := handlers.NewHandlers(store, bumps, resolver, coordinator, logger.Slog())

	var uploadLimiter *rate.Limiter
	if cfg.Server.UploadRatePerSecond > 0 {
		uploadLimiter = rate.NewLimiter(rate.Limit(cfg.Server.UploadRatePerSecond), cfg.Server.UploadBurst)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Otel.Enabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	routes.SetupRoutes(router, h, uploadLimiter)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("analytics server listening", "port", cfg.Server.Port, "data_dir", cfg.Data.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// initTracer wires the OTLP gRPC exporter into the global tracer
// provider and returns the shutdown hook.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}
