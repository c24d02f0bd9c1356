// Package app wires the seat engine's dependencies from configuration. Both
// binaries build on it so the API and the worker see the same stack.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/techmajster/time8-product-sub008/internal/config"
	"github.com/techmajster/time8-product-sub008/internal/email"
	"github.com/techmajster/time8-product-sub008/internal/handler/health"
	"github.com/techmajster/time8-product-sub008/internal/model"
	"github.com/techmajster/time8-product-sub008/internal/provider"
	"github.com/techmajster/time8-product-sub008/internal/repository"
	"github.com/techmajster/time8-product-sub008/internal/repository/memory"
	"github.com/techmajster/time8-product-sub008/internal/repository/postgres"
	"github.com/techmajster/time8-product-sub008/internal/service/alert"
	"github.com/techmajster/time8-product-sub008/internal/service/seatmanager"
	"github.com/techmajster/time8-product-sub008/internal/service/webhook"
	"github.com/techmajster/time8-product-sub008/internal/worker"
	"github.com/techmajster/time8-product-sub008/pkg/lock"
	"github.com/techmajster/time8-product-sub008/pkg/logger"
	"github.com/techmajster/time8-product-sub008/pkg/messaging"
	"github.com/techmajster/time8-product-sub008/pkg/messaging/redis"
	"github.com/techmajster/time8-product-sub008/pkg/metrics"
)

const metricsNamespace = "time8"

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Subscriptions repository.SubscriptionRepository
	Organizations repository.OrganizationRepository
	Alerts        *alert.Service
	Provider      *provider.Client

	Seats       *seatmanager.Service
	Webhooks    *webhook.Service
	PendingSync *worker.PendingSync
	Reconcile   *worker.Reconciliation

	alertRepo repository.AlertRepository
	db        *sqlx.DB
	redis     *goredis.Client
	broker    messaging.Broker
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.JSON,
	})
}

// New connects storage and Redis and builds every service. Redis is
// optional: without it locks are process local and alerts skip the broker.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Log:      log,
		Registry: prometheus.NewRegistry(),
		Metrics:  metrics.New(metricsNamespace),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := a.Metrics.Register(a.Registry); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if err := a.openStorage(); err != nil {
		return nil, err
	}
	locker := a.openRedis(ctx)

	a.Alerts = alert.NewService(a.alertRepo, log, a.Metrics)
	a.registerChannels()

	a.Provider = provider.NewClient(provider.Config{
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          cfg.Secrets.ProviderAPIKey,
		StoreID:         cfg.Secrets.ProviderStoreID,
		Timeout:         cfg.Provider.Timeout,
		BreakerFailures: cfg.Provider.BreakerFailures,
		BreakerTimeout:  cfg.Provider.BreakerTimeout,
	}, log, a.Metrics)

	a.Seats = seatmanager.NewService(a.Subscriptions, a.Organizations, a.Provider, locker, a.Alerts, log, a.Metrics,
		seatmanager.Config{
			LockTTL:       cfg.Seats.LockTTL,
			InvitationTTL: cfg.Seats.InvitationTTL,
		})
	a.Webhooks = webhook.NewService(a.Subscriptions, log)
	a.PendingSync = worker.NewPendingSync(a.Subscriptions, a.Provider, a.Alerts, log, a.Metrics, worker.PendingSyncConfig{
		WindowMin:     cfg.Jobs.WindowMin,
		WindowMax:     cfg.Jobs.WindowMax,
		ProviderDelay: cfg.Jobs.ProviderDelay,
	})
	a.Reconcile = worker.NewReconciliation(a.Subscriptions, a.Provider, a.Alerts, log, a.Metrics, worker.ReconcileConfig{
		ProviderDelay: cfg.Jobs.ProviderDelay,
	})

	return a, nil
}

func (a *App) openStorage() error {
	if a.Config.Database.Driver == "memory" {
		a.Log.Warn("using in-memory storage; state is lost on restart")
		store := memory.NewStore()
		a.Subscriptions = store.Subscriptions()
		a.Organizations = store.Organizations()
		a.alertRepo = store.Alerts()
		return nil
	}

	db, err := postgres.NewDB(a.Config.Database)
	if err != nil {
		return err
	}
	a.db = db
	repos := postgres.NewRepositories(db, a.Metrics)
	a.Subscriptions = repos.Subscriptions
	a.Organizations = repos.Organizations
	a.alertRepo = repos.Alerts
	return nil
}

func (a *App) openRedis(ctx context.Context) lock.Locker {
	if a.Config.Redis.URL == "" {
		a.Log.Warn("redis not configured; seat locks are process local")
		return lock.NewLocalLocker()
	}

	client, err := redis.NewClient(ctx, redis.Config{
		URL:          a.Config.Redis.URL,
		MaxRetries:   a.Config.Redis.MaxRetries,
		RetryBackoff: a.Config.Redis.RetryBackoff,
		PoolSize:     a.Config.Redis.PoolSize,
		MinIdleConns: a.Config.Redis.MinIdleConns,
	})
	if err != nil {
		a.Log.Error(err, "redis unavailable; seat locks are process local")
		return lock.NewLocalLocker()
	}
	a.redis = client
	a.broker = redis.NewRedisBroker(client, a.Log)
	return lock.NewRedisLocker(client, a.Config.Seats.LockPrefix)
}

func (a *App) registerChannels() {
	cfg := a.Config.Alerts
	if a.broker != nil {
		a.Alerts.Register(model.AlertSeverityWarning, alert.NewBrokerChannel(a.broker, cfg.WarningChannel))
		a.Alerts.Register(model.AlertSeverityCritical, alert.NewBrokerChannel(a.broker, cfg.CriticalChannel))
	}
	if cfg.SMTPHost != "" && len(cfg.Recipients) > 0 {
		mailer := email.NewSMTPService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: a.Config.Secrets.SMTPPassword,
			From:     cfg.From,
		})
		a.Alerts.Register(model.AlertSeverityCritical, alert.NewEmailChannel(mailer, cfg.Recipients))
	}
}

// HealthChecks returns readiness probes for the backing services in use.
func (a *App) HealthChecks() map[string]health.Check {
	checks := map[string]health.Check{}
	if a.db != nil {
		checks["database"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.Log.Error(err, "failed to close broker")
		}
	} else if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Log.Error(err, "failed to close database")
		}
	}
}
