package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/knightly/internal/app/api/server"
	"github.com/fatflowers/knightly/internal/app/service/billing"
	"github.com/fatflowers/knightly/internal/app/service/notify"
	"github.com/fatflowers/knightly/internal/app/service/payment"
	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/internal/app/service/scheduler"
	"github.com/fatflowers/knightly/internal/app/service/statistics"
	"github.com/fatflowers/knightly/internal/platform/db"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	"github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/internal/platform/stripe/stripe_webhook"
	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/logger"
	"github.com/fatflowers/knightly/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// CoreModule wires storage, integrations and services without any
// long-running surface. Command line tools start it on its own.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	metrics.Module,
	db.Module,
	mailer.Module,
	stripe_billing.Module,
	stripe_webhook.Module,
	notify.Module,
	quota.Module,
	billing.Module,
	statistics.Module,
	payment.Module,
	scheduler.Module,
)

var Module = fx.Options(
	CoreModule,
	server.Module,
	scheduler.CronModule,
)
