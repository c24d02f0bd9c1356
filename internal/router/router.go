package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/techmajster/time8-product-sub008/internal/handler/cron"
	"github.com/techmajster/time8-product-sub008/internal/handler/health"
	"github.com/techmajster/time8-product-sub008/internal/handler/prometheus"
	"github.com/techmajster/time8-product-sub008/internal/handler/seat"
	"github.com/techmajster/time8-product-sub008/internal/handler/webhook"
	"github.com/techmajster/time8-product-sub008/internal/middleware"
	"github.com/techmajster/time8-product-sub008/pkg/validator"
)

type Handler interface {
	RegisterRoutes(gin.IRouter)
}

type RouterConfig struct {
	CronSecret     string
	RequestTimeout time.Duration
	MaxBodySize    int64
	WebhookRate    rate.Limit
	WebhookBurst   int
}

type Router struct {
	engine   *gin.Engine
	config   RouterConfig
	healthH  *health.Handler
	metricsH *prometheus.Handler
	seatH    Handler
	cronH    Handler
	webhookH Handler
}

func NewRouter(
	healthH *health.Handler,
	metricsH *prometheus.Handler,
	seatH *seat.Handler,
	cronH *cron.Handler,
	webhookH *webhook.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	validator.UseJSONNames()

	engine := gin.New()

	r := &Router{
		engine:   engine,
		config:   config,
		healthH:  healthH,
		metricsH: metricsH,
		seatH:    seatH,
		cronH:    cronH,
		webhookH: webhookH,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		metricsH.Middleware(),
	)

	return r
}

func (r *Router) Setup() {
	r.healthH.RegisterRoutes(r.engine)
	r.engine.GET("/metrics", r.metricsH.Handler())

	api := r.engine.Group("/api/v1",
		middleware.Timeout(r.config.RequestTimeout),
		middleware.SizeLimit(r.config.MaxBodySize),
	)
	r.seatH.RegisterRoutes(api)

	// Batch runs are not bound by the request timeout.
	cronGroup := r.engine.Group("/api/cron", middleware.CronAuth(r.config.CronSecret))
	r.cronH.RegisterRoutes(cronGroup)

	webhookLimit := r.config.WebhookRate
	if webhookLimit == 0 {
		webhookLimit = rate.Inf
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  webhookLimit,
		Burst: r.config.WebhookBurst,
	})
	hooks := r.engine.Group("/api/webhooks",
		middleware.Timeout(r.config.RequestTimeout),
		middleware.SizeLimit(r.config.MaxBodySize),
		limiter.RateLimit(),
	)
	r.webhookH.RegisterRoutes(hooks)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
