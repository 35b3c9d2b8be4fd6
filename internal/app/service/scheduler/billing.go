package scheduler

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/types"
)

// Subscriptions in these states never change again on the provider side.
var finalStatuses = []types.SubscriptionStatus{
	types.SubscriptionStatusCanceled,
	types.SubscriptionStatusIncompleteExpired,
}

func (j *Jobs) ResetMonthlyQuotas(ctx context.Context) error {
	n, err := j.quota.ResetMonthlyQuotas(ctx)
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, j.log).Infow("monthly quotas reset", "users", n)
	return nil
}

// ExpireTrials downgrades lapsed trials and tells each user. Mail is fire
// and forget.
// ExpireTrials sends the trial-ended mail synchronously: the downgrade has
// already cleared its latch, so the job must not return before delivery.
func (j *Jobs) ExpireTrials(ctx context.Context) error {
	users, err := j.quota.ExpireTrials(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, u := range users {
		res := j.notifier.Send(ctx, u.Email, mailer.TemplateTrialEnded, map[string]any{
			"Name": displayName(u.Username, u.Email),
			"Link": j.notifier.Link("/pricing"),
		})
		if !res.Success {
			failed++
		}
	}
	logctx.FromCtx(ctx, j.log).Infow("trials expired", "users", len(users), "mail_failed", failed)
	return nil
}

func (j *Jobs) SnapshotSubscriptions(ctx context.Context) error {
	n, err := j.stats.SnapshotSubscriptions(ctx, dateOf(j.now(), j.loc))
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, j.log).Infow("subscription snapshot written", "rows", n)
	return nil
}

type syncResult struct {
	synced int
	failed int
}

// syncOne fetches the provider's copy of a subscription and applies it. Local
// identifiers fill in metadata the provider object lacks.
func (j *Jobs) syncOne(ctx context.Context, kind types.SubscriptionKind, stripeID string, fallback sb.Metadata, r *syncResult) error {
	log := logctx.FromCtx(ctx, j.log)
	remote, err := j.provider.GetSubscription(ctx, stripeID)
	if errors.Is(err, sb.ErrNotConfigured) {
		return err
	}
	if err != nil {
		r.failed++
		log.Warnw("subscription fetch failed", "stripe_subscription_id", stripeID, "err", err)
		return nil
	}
	if remote.Metadata == nil {
		remote.Metadata = sb.Metadata{}
	}
	for k, v := range fallback {
		if remote.Metadata[k] == "" {
			remote.Metadata[k] = v
		}
	}
	if err := j.billing.ApplySubscriptionSnapshot(ctx, kind, remote); err != nil {
		r.failed++
		log.Warnw("subscription sync failed", "stripe_subscription_id", stripeID, "err", err)
		return nil
	}
	r.synced++
	return nil
}

// SyncSubscriptions re-reads every non-final platform and author subscription
// from Stripe. One subscription failing does not stop the pass.
func (j *Jobs) SyncSubscriptions(ctx context.Context) error {
	log := logctx.FromCtx(ctx, j.log)
	var r syncResult

	var platform []*models.Subscription
	res := j.db.WithContext(ctx).
		Where("stripe_subscription_id <> '' AND status NOT IN ?", finalStatuses).
		FindInBatches(&platform, syncBatchSize, func(_ *gorm.DB, _ int) error {
			for _, s := range platform {
				meta := sb.Metadata{sb.MetaKind: string(types.SubscriptionKindPlatform), sb.MetaUserID: s.UserID}
				if err := j.syncOne(ctx, types.SubscriptionKindPlatform, s.StripeSubscriptionID, meta, &r); err != nil {
					return err
				}
			}
			return ctx.Err()
		})
	if errors.Is(res.Error, sb.ErrNotConfigured) {
		log.Warnw("subscription sync skipped", "reason", res.Error.Error())
		return nil
	}
	if res.Error != nil {
		return fmt.Errorf("failed to sync platform subscriptions: %w", res.Error)
	}

	var author []*models.AuthorSubscription
	res = j.db.WithContext(ctx).
		Where("stripe_subscription_id <> '' AND status NOT IN ?", finalStatuses).
		FindInBatches(&author, syncBatchSize, func(_ *gorm.DB, _ int) error {
			for _, s := range author {
				meta := sb.Metadata{
					sb.MetaKind:         string(types.SubscriptionKindAuthor),
					sb.MetaAuthorID:     s.AuthorID,
					sb.MetaSubscriberID: s.SubscriberID,
				}
				if err := j.syncOne(ctx, types.SubscriptionKindAuthor, s.StripeSubscriptionID, meta, &r); err != nil {
					return err
				}
			}
			return ctx.Err()
		})
	if res.Error != nil {
		return fmt.Errorf("failed to sync author subscriptions: %w", res.Error)
	}

	log.Infow("subscriptions synced", "synced", r.synced, "failed", r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d subscriptions failed to sync", r.failed)
	}
	return nil
}
