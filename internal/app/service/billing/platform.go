package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

// subscriptionChange is one committed platform subscription mutation.
type subscriptionChange struct {
	user   models.User
	before *models.Subscription
	after  *models.Subscription
}

// lockSubscription loads the row for update, by provider id first and by
// user as a fallback. Returns nil when neither matches.
func lockSubscription(tx *gorm.DB, stripeID, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("stripe_subscription_id = ?", stripeID).Take(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if userID == "" {
		return nil, nil
	}
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// mirror copies the provider's view onto m. Tier is always derived from status.
func mirror(m *models.Subscription, sub *sb.Subscription) {
	m.StripeSubscriptionID = sub.ID
	if c := sub.Customer.String(); c != "" {
		m.StripeCustomerID = c
	}
	if p := sub.PriceID(); p != "" {
		m.StripePriceID = p
	}
	m.Status = sub.Status
	m.Tier = types.TierFromStatus(sub.Status)
	m.CurrentPeriodStart = sub.PeriodStart()
	m.CurrentPeriodEnd = sub.PeriodEnd()
	m.TrialStart = sub.TrialStartAt()
	m.TrialEnd = sub.TrialEndAt()
	m.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	m.CanceledAt = sub.CanceledAtTime()
}

// applyPlatformSubscription upserts the platform subscription from a
// subscription payload. The result depends only on the payload.
func (r *Reconciler) applyPlatformSubscription(ctx context.Context, eventID string, sub *sb.Subscription, reason types.SubscriptionChangeReason) (*outcome, error) {
	now := r.now()
	userID := sub.Metadata[sb.MetaUserID]

	var change *subscriptionChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := lockSubscription(tx, sub.ID, userID)
		if err != nil {
			return err
		}
		// An event for an older subscription must not overwrite the user's current one.
		if original != nil && original.StripeSubscriptionID != "" && original.StripeSubscriptionID != sub.ID &&
			reason != types.SubscriptionChangeReasonCreated && original.Valid() {
			return errSuperseded
		}

		next := &models.Subscription{ID: tool.GenerateUUIDV7(), UserID: userID}
		if original != nil {
			cp := *original
			next = &cp
		}
		if next.UserID == "" {
			return ErrMissingUserID
		}
		mirror(next, sub)
		switch reason {
		case types.SubscriptionChangeReasonDeleted:
			next.Status = types.SubscriptionStatusCanceled
			next.Tier = types.TierFree
			if next.CanceledAt == nil {
				next.CanceledAt = &now
			}
		case types.SubscriptionChangeReasonSync:
			next.SyncedAt = &now
		}

		change, err = r.commitSubscription(tx, eventID, reason, original, next, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s subscription event: %w", reason, err)
	}

	logctx.FromCtx(ctx, r.log).Infow("platform subscription reconciled",
		"user_id", change.after.UserID, "reason", reason, "status", change.after.Status, "tier", change.after.Tier)

	out := handled(types.SubscriptionKindPlatform, change.after.UserID, string(change.after.Status))
	switch reason {
	case types.SubscriptionChangeReasonCreated:
		out.withMail(change.user.Email, mailer.TemplateWelcome, map[string]any{
			"Name":   change.user.DisplayName(),
			"Status": string(change.after.Status),
			"Link":   r.notifier.Link("/settings/subscription"),
		})
	case types.SubscriptionChangeReasonDeleted:
		out.withMail(change.user.Email, mailer.TemplateSubscriptionCanceled, map[string]any{
			"Name": change.user.DisplayName(),
			"Link": r.notifier.Link("/pricing"),
		})
	}
	return out, nil
}

// commitSubscription writes the subscription row, its audit log and the
// user's cached tier fields in tx.
func (r *Reconciler) commitSubscription(tx *gorm.DB, eventID string, reason types.SubscriptionChangeReason, before, after *models.Subscription, now time.Time) (*subscriptionChange, error) {
	var user models.User
	if err := tx.Select("id", "email", "username").Where("id = ?", after.UserID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", after.UserID, ErrUnknownUser)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if before == nil {
		if err := tx.Create(after).Error; err != nil {
			return nil, fmt.Errorf("failed to create subscription: %w", err)
		}
	} else if err := tx.Save(after).Error; err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	log := &models.SubscriptionLog{
		ID:      tool.GenerateUUIDV7(),
		UserID:  after.UserID,
		EventID: eventID,
		Reason:  reason,
		Before:  datatypes.NewJSONType(before),
		After:   datatypes.NewJSONType(after),
		Extra:   datatypes.JSONMap{"stripe_subscription_id": after.StripeSubscriptionID},
	}
	if err := tx.Create(log).Error; err != nil {
		return nil, fmt.Errorf("failed to save subscription log: %w", err)
	}

	updates := map[string]any{
		"subscription_tier":   after.Tier,
		"subscription_status": after.Status,
	}
	switch {
	case after.Status == types.SubscriptionStatusTrialing && after.TrialEnd != nil:
		updates["trial_ends_at"] = after.TrialEnd
	case before != nil && before.Status == types.SubscriptionStatusTrialing && !after.Status.Entitled():
		// A provider trial that ends without conversion also ends the local one.
		updates["trial_ends_at"] = nil
	}
	if after.StripeCustomerID != "" {
		updates["stripe_customer_id"] = after.StripeCustomerID
	}
	if err := tx.Model(&models.User{}).Where("id = ?", after.UserID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update user tier cache: %w", err)
	}
	return &subscriptionChange{user: user, before: before, after: after}, nil
}

func lockSubscriptionForInvoice(tx *gorm.DB, inv *sb.Invoice) (*models.Subscription, error) {
	original, err := lockSubscription(tx, inv.SubscriptionID(), "")
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, fmt.Errorf("subscription %s: %w", inv.SubscriptionID(), ErrSubscriptionNotFound)
	}
	return original, nil
}

// platformInvoicePaid activates the subscription and books revenue. The
// ledger insert shares the transaction: if it fails nothing is committed.
func (r *Reconciler) platformInvoicePaid(ctx context.Context, eventID string, inv *sb.Invoice) (*outcome, error) {
	now := r.now()
	var change *subscriptionChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := lockSubscriptionForInvoice(tx, inv)
		if err != nil {
			return err
		}
		next := *original
		next.Status = types.SubscriptionStatusActive
		next.Tier = types.TierPremium
		next.CancelAtPeriodEnd = false

		change, err = r.commitSubscription(tx, eventID, types.SubscriptionChangeReasonPaymentOK, original, &next, now)
		if err != nil {
			return err
		}
		return insertLedger(tx, &models.SubscriptionPayment{
			Kind:   types.SubscriptionKindPlatform,
			UserID: next.UserID,
		}, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply invoice %s: %w", inv.ID, err)
	}

	out := handled(types.SubscriptionKindPlatform, change.after.UserID, string(change.after.Status))
	return out.withMail(change.user.Email, mailer.TemplatePaymentReceipt, map[string]any{
		"Name":      change.user.DisplayName(),
		"Amount":    inv.AmountPaid,
		"Currency":  inv.Currency,
		"InvoiceID": inv.ID,
	}), nil
}

func (r *Reconciler) platformInvoiceFailed(ctx context.Context, eventID string, inv *sb.Invoice) (*outcome, error) {
	now := r.now()
	var change *subscriptionChange
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		original, err := lockSubscriptionForInvoice(tx, inv)
		if err != nil {
			return err
		}
		next := *original
		next.Status = types.SubscriptionStatusPastDue
		next.Tier = types.TierFromStatus(next.Status)

		change, err = r.commitSubscription(tx, eventID, types.SubscriptionChangeReasonPaymentFailed, original, &next, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply failed invoice %s: %w", inv.ID, err)
	}

	payLink := inv.HostedURL
	if payLink == "" {
		payLink = r.notifier.Link("/settings/billing")
	}
	out := handled(types.SubscriptionKindPlatform, change.after.UserID, string(change.after.Status))
	return out.withMail(change.user.Email, mailer.TemplatePaymentFailed, map[string]any{
		"Name":     change.user.DisplayName(),
		"Amount":   inv.AmountDue,
		"Currency": inv.Currency,
		"Link":     payLink,
	}), nil
}

// insertLedger books one invoice. Replays hit the unique invoice or payment
// intent keys and insert nothing.
func insertLedger(tx *gorm.DB, row *models.SubscriptionPayment, inv *sb.Invoice) error {
	row.ID = tool.GenerateUUIDV7()
	row.Reason = inv.LedgerReason()
	row.StripeInvoiceID = inv.ID
	row.StripePaymentIntentID = lo.EmptyableToPtr(inv.PaymentIntent.String())
	row.StripeSubscriptionID = inv.SubscriptionID()
	row.AmountCents = inv.AmountPaid
	row.Currency = inv.Currency
	row.PaidAt = inv.PaidAt()
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}
