package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/techmajster/time8-product-sub008/internal/app"
	"github.com/techmajster/time8-product-sub008/internal/config"
	"github.com/techmajster/time8-product-sub008/internal/handler/cron"
	"github.com/techmajster/time8-product-sub008/internal/handler/health"
	"github.com/techmajster/time8-product-sub008/internal/handler/prometheus"
	"github.com/techmajster/time8-product-sub008/internal/handler/seat"
	"github.com/techmajster/time8-product-sub008/internal/handler/webhook"
	"github.com/techmajster/time8-product-sub008/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := app.NewLogger(cfg.Log)
	log.Logger = *logger.Zerolog()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	// Setup router
	r := router.NewRouter(
		health.NewHandler(a.HealthChecks()),
		prometheus.New(a.Registry, "time8"),
		seat.NewHandler(a.Seats),
		cron.NewHandler(a.PendingSync, a.Reconcile),
		webhook.NewHandler(a.Webhooks),
		router.RouterConfig{
			CronSecret:     cfg.Secrets.CronSecret,
			RequestTimeout: cfg.Server.Timeout(),
			MaxBodySize:    cfg.Server.MaxBodyBytes,
			WebhookRate:    rate.Limit(cfg.Server.WebhookRate),
			WebhookBurst:   cfg.Server.WebhookBurst,
		},
	)
	r.Setup()

	if cfg.Secrets.CronSecret == "" {
		logger.Warn("CRON_SECRET is empty; cron endpoints reject every request")
	}

	// Create server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "server forced to shutdown")
	}

	logger.Info("server exited properly")
}
