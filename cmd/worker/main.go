package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/techmajster/time8-product-sub008/internal/app"
	"github.com/techmajster/time8-product-sub008/internal/config"
	"github.com/techmajster/time8-product-sub008/internal/handler/health"
	"github.com/techmajster/time8-product-sub008/internal/middleware"
	"github.com/techmajster/time8-product-sub008/internal/worker"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
)

func setupHealthCheck(a *app.App, port int, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(middleware.Recovery())
	health.NewHandler(a.HealthChecks()).RegisterRoutes(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := app.NewLogger(cfg.Log).WithFields(map[string]interface{}{"component": "worker"})
	log.Logger = *logger.Zerolog()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancelInit()
	if err != nil {
		logger.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	scheduler := worker.NewScheduler(logger, cfg.Jobs.RunTimeout)
	if err := scheduler.Add(worker.JobPendingSync, cfg.Jobs.PendingSyncSchedule, func(ctx context.Context) error {
		_, err := a.PendingSync.Run(ctx)
		return err
	}); err != nil {
		logger.Fatal(err, "failed to schedule pending sync")
	}
	if err := scheduler.Add(worker.JobReconcile, cfg.Jobs.ReconcileSchedule, func(ctx context.Context) error {
		_, err := a.Reconcile.Run(ctx)
		return err
	}); err != nil {
		logger.Fatal(err, "failed to schedule reconciliation")
	}

	srv := setupHealthCheck(a, cfg.Server.WorkerPort, logger)
	scheduler.Start()
	logger.Info("worker started", "jobs", scheduler.Entries())

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	scheduler.Stop(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(err, "health server forced to shutdown")
	}
}
