package scheduler

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/knightly/internal/app/service/billing"
	"github.com/fatflowers/knightly/internal/app/service/notify"
	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/internal/app/service/statistics"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/metrics"
	"github.com/fatflowers/knightly/pkg/types"
)

const (
	JobDispatchNotifications = "dispatch-notifications"
	JobCreateRecurringGames  = "create-recurring-games"
	JobScheduleReminders     = "schedule-reminders"
	JobExpireWaitlist        = "expire-waitlist"
	JobResetMonthlyQuotas    = "reset-monthly-quotas"
	JobExpireTrials          = "expire-trials"
	JobSyncSubscriptions     = "sync-subscriptions"
	JobAutoCheckoutVenues    = "auto-checkout-venues"
	JobSnapshotSubscriptions = "snapshot-subscriptions"
)

const (
	defaultBatchSize = 100
	syncBatchSize    = 200
	reminderHorizon  = 48 * time.Hour
)

// Notifier delivers templated email.
type Notifier interface {
	Send(ctx context.Context, to, template string, data map[string]any) mailer.Result
	Link(path string) string
}

type QuotaMaintainer interface {
	ResetMonthlyQuotas(ctx context.Context) (int64, error)
	ExpireTrials(ctx context.Context) ([]quota.ExpiredTrialUser, error)
}

// SnapshotApplier applies an authoritative provider subscription.
type SnapshotApplier interface {
	ApplySubscriptionSnapshot(ctx context.Context, kind types.SubscriptionKind, sub *sb.Subscription) error
}

type Snapshotter interface {
	SnapshotSubscriptions(ctx context.Context, snapshotDate time.Time) (int64, error)
}

// Jobs holds the dependencies of the maintenance jobs. Each job is a single
// idempotent pass and is safe to run again after a failure.
type Jobs struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	notifier  Notifier
	quota     QuotaMaintainer
	billing   SnapshotApplier
	provider  sb.Provider
	stats     Snapshotter
	loc       *time.Location
	batchSize int
	now       func() time.Time
}

func NewJobs(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger, n *notify.Service, q *quota.Service,
	r *billing.Reconciler, provider sb.Provider, stats *statistics.Service) *Jobs {
	batch := cfg.Scheduler.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Jobs{
		db:        db,
		log:       log,
		notifier:  n,
		quota:     q,
		billing:   r,
		provider:  provider,
		stats:     stats,
		loc:       cfg.Scheduler.Location(),
		batchSize: batch,
		now:       time.Now,
	}
}

func (j *Jobs) definitions() []Job {
	return []Job{
		{Name: JobDispatchNotifications, Spec: "0 * * * *", Description: "Send due scheduled notifications", Run: j.DispatchNotifications},
		{Name: JobCreateRecurringGames, Spec: "0 1 * * *", Description: "Materialize the next occurrence of recurring games", Run: j.CreateRecurringGames},
		{Name: JobScheduleReminders, Spec: "0 */6 * * *", Description: "Schedule reminders for games starting within 48 hours", Run: j.ScheduleReminders},
		{Name: JobExpireWaitlist, Spec: "0 2 * * *", Description: "Expire waitlist entries of finished games", Run: j.ExpireWaitlist},
		{Name: JobResetMonthlyQuotas, Spec: "0 0 1 * *", Description: "Reset monthly game counters", Run: j.ResetMonthlyQuotas},
		{Name: JobExpireTrials, Spec: "0 3 * * *", Description: "Downgrade users whose trial ended", Run: j.ExpireTrials},
		{Name: JobSyncSubscriptions, Spec: "30 */6 * * *", Description: "Pull subscription state from Stripe", Run: j.SyncSubscriptions},
		{Name: JobAutoCheckoutVenues, Spec: "0 0 * * *", Description: "Close open venue check-ins", Run: j.AutoCheckoutVenues},
		{Name: JobSnapshotSubscriptions, Spec: "15 0 * * *", Description: "Write the daily subscription snapshot", Run: j.SnapshotSubscriptions},
	}
}

// Register adds every job to s.
func (j *Jobs) Register(s *Scheduler) error {
	for _, job := range j.definitions() {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func newScheduler(cfg *config.Config, log *zap.SugaredLogger, rec *metrics.Recorder, jobs *Jobs) (*Scheduler, error) {
	s := New(cfg, log, rec)
	if err := jobs.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

var Module = fx.Options(
	fx.Provide(NewJobs, newScheduler),
)
