package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/docs"
	"github.com/fatflowers/knightly/internal/app/api/handlers"
	mw "github.com/fatflowers/knightly/internal/app/api/middleware"
	"github.com/fatflowers/knightly/internal/app/service/billing"
	"github.com/fatflowers/knightly/internal/app/service/payment"
	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/internal/app/service/scheduler"
	"github.com/fatflowers/knightly/internal/app/service/statistics"
	"github.com/fatflowers/knightly/internal/platform/stripe/stripe_webhook"
	cfgpkg "github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/metrics"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeDeps struct {
	fx.In

	Engine     *gin.Engine
	Log        *zap.SugaredLogger
	Config     *cfgpkg.Config
	Verifier   *stripe_webhook.Verifier
	Reconciler *billing.Reconciler
	Quota      *quota.Service
	Scheduler  *scheduler.Scheduler
	Payments   payment.PaymentManager
	Statistics *statistics.Service
}

func registerRoutes(lc fx.Lifecycle, d routeDeps) error {
	r, log, cfg := d.Engine, d.Log, d.Config

	// Prometheus metrics
	p, err := metrics.NewPrometheus(metrics.NewPrometheusOptions{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to register http metrics: %w", err)
	}
	p.Use(r, cfg.MetricsAddr)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			p.Start()
			log.Infow("metrics started", "addr", cfg.MetricsAddr)
			return nil
		},
		OnStop: p.Shutdown,
	})

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterSubscriptionRoutes(apiV1, d.Quota)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), d.Scheduler, d.Payments, d.Statistics)

	apiV2Payment := r.Group("/api/v2/payment")
	apiV2Payment.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterPaymentWebhookRoutes(apiV2Payment, d.Verifier, d.Reconciler, log)
	return nil
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
