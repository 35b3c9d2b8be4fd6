package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

var entitledStatuses = []types.SubscriptionStatus{types.SubscriptionStatusActive, types.SubscriptionStatusTrialing}

const recomputeAuthorMetricsSQL = `UPDATE users SET
	author_subscriber_count = (SELECT COUNT(*) FROM author_subscriptions WHERE author_id = ? AND status IN ?),
	author_mrr_cents = (SELECT COALESCE(SUM(amount_cents), 0) FROM author_subscriptions WHERE author_id = ? AND status IN ?),
	updated_at = ?
WHERE id = ?`

// applyAuthorSubscription upserts the (author, subscriber) row and refreshes
// the author's cached metrics.
func (r *Reconciler) applyAuthorSubscription(ctx context.Context, sub *sb.Subscription, deleted bool) (*outcome, error) {
	authorID := sub.Metadata[sb.MetaAuthorID]
	subscriberID := sub.Metadata.SubscriberID()
	if authorID == "" || subscriberID == "" {
		return nil, fmt.Errorf("author subscription %s: %w", sub.ID, ErrMissingUserID)
	}
	now := r.now()

	row := &models.AuthorSubscription{
		ID:                   tool.GenerateUUIDV7(),
		AuthorID:             authorID,
		SubscriberID:         subscriberID,
		Status:               sub.Status,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.Customer.String(),
		AmountCents:          sub.MonthlyAmountCents(),
		Currency:             sub.Currency(),
		CurrentPeriodEnd:     sub.PeriodEnd(),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           sub.CanceledAtTime(),
	}
	if deleted {
		row.Status = types.SubscriptionStatusCanceled
		if row.CanceledAt == nil {
			row.CanceledAt = &now
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "author_id"}, {Name: "subscriber_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "stripe_subscription_id", "stripe_customer_id", "amount_cents", "currency",
				"current_period_end", "cancel_at_period_end", "canceled_at", "updated_at",
			}),
		}).Create(row).Error
		if err != nil {
			return fmt.Errorf("failed to upsert author subscription: %w", err)
		}
		return recomputeAuthorMetrics(tx, authorID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply author subscription %s: %w", sub.ID, err)
	}

	logctx.FromCtx(ctx, r.log).Infow("author subscription reconciled",
		"author_id", authorID, "subscriber_id", subscriberID, "status", row.Status)
	return handled(types.SubscriptionKindAuthor, subscriberID, string(row.Status)), nil
}

func (r *Reconciler) authorInvoicePaid(ctx context.Context, inv *sb.Invoice) (*outcome, error) {
	return r.applyAuthorInvoice(ctx, inv, types.SubscriptionStatusActive, true)
}

func (r *Reconciler) authorInvoiceFailed(ctx context.Context, inv *sb.Invoice) (*outcome, error) {
	return r.applyAuthorInvoice(ctx, inv, types.SubscriptionStatusPastDue, false)
}

func (r *Reconciler) applyAuthorInvoice(ctx context.Context, inv *sb.Invoice, status types.SubscriptionStatus, paid bool) (*outcome, error) {
	meta := inv.Metadata()
	authorID := meta[sb.MetaAuthorID]
	subscriberID := meta.SubscriberID()
	if authorID == "" || subscriberID == "" {
		return nil, fmt.Errorf("author invoice %s: %w", inv.ID, ErrMissingUserID)
	}
	now := r.now()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": status}
		if paid {
			updates["cancel_at_period_end"] = false
		}
		res := tx.Model(&models.AuthorSubscription{}).
			Where("author_id = ? AND subscriber_id = ?", authorID, subscriberID).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update author subscription: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("author subscription %s: %w", inv.SubscriptionID(), ErrSubscriptionNotFound)
		}
		if paid {
			if err := insertLedger(tx, &models.SubscriptionPayment{
				Kind:     types.SubscriptionKindAuthor,
				UserID:   subscriberID,
				AuthorID: &authorID,
			}, inv); err != nil {
				return err
			}
		}
		return recomputeAuthorMetrics(tx, authorID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply author invoice %s: %w", inv.ID, err)
	}
	return handled(types.SubscriptionKindAuthor, subscriberID, string(status)), nil
}

func recomputeAuthorMetrics(tx *gorm.DB, authorID string, now time.Time) error {
	err := tx.Exec(recomputeAuthorMetricsSQL, authorID, entitledStatuses, authorID, entitledStatuses, now, authorID).Error
	if err != nil {
		return fmt.Errorf("failed to recompute author metrics: %w", err)
	}
	return nil
}
