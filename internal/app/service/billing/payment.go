package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/fatflowers/knightly/internal/models"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/types"
)

var errUnknownPayment = errors.New("checkout does not reference a known payment")

// membershipTerm is the length of a club membership bought in one checkout.
const membershipTerm = 1 // years

func checkoutPaymentID(cs *sb.CheckoutSession) string {
	if id := cs.Metadata[sb.MetaPaymentID]; id != "" {
		return id
	}
	return cs.ClientReferenceID
}

// onCheckoutPaid marks a pending one-time payment succeeded and applies its
// domain effect. Only the first delivery passes the pending guard.
func (r *Reconciler) onCheckoutPaid(ctx context.Context, eventType stripe.EventType, raw json.RawMessage) (*outcome, error) {
	cs, err := sb.Decode[sb.CheckoutSession](raw)
	if err != nil {
		return ignored(err.Error()), nil
	}
	if cs.Mode != string(stripe.CheckoutSessionModePayment) {
		return ignored("not a one-time checkout"), nil
	}
	if eventType == stripe.EventTypeCheckoutSessionCompleted && cs.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusUnpaid) {
		return ignored("awaiting async payment"), nil
	}
	paymentID := checkoutPaymentID(cs)
	if paymentID == "" {
		return nil, fmt.Errorf("checkout %s: %w", cs.ID, errUnknownPayment)
	}
	now := r.now()

	var payment models.Payment
	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", paymentID, types.PaymentStatusPending).
			Updates(map[string]any{
				"status":                     types.PaymentStatusSucceeded,
				"stripe_checkout_session_id": cs.ID,
				"stripe_payment_intent_id":   lo.EmptyableToPtr(cs.PaymentIntent.String()),
				"paid_at":                    now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark payment succeeded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		if err := tx.Where("id = ?", paymentID).Take(&payment).Error; err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		return r.confirmPurchase(ctx, tx, &payment, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply checkout %s: %w", cs.ID, err)
	}
	if !applied {
		return ignored("payment not pending"), nil
	}
	return handled("", payment.UserID, string(types.PaymentStatusSucceeded)), nil
}

// confirmPurchase applies the effect selected by the payment type.
func (r *Reconciler) confirmPurchase(ctx context.Context, tx *gorm.DB, p *models.Payment, now time.Time) error {
	var res *gorm.DB
	switch p.PaymentType {
	case types.PaymentTypeBooking:
		res = tx.Model(&models.Booking{}).Where("id = ?", p.ReferenceID).Updates(map[string]any{
			"status":       models.BookingStatusConfirmed,
			"payment_id":   p.ID,
			"confirmed_at": now,
		})
	case types.PaymentTypeTournamentRegistration:
		res = tx.Model(&models.TournamentRegistration{}).Where("id = ?", p.ReferenceID).Updates(map[string]any{
			"status":       models.RegistrationStatusConfirmed,
			"payment_id":   p.ID,
			"confirmed_at": now,
		})
	case types.PaymentTypeClubMembership:
		res = tx.Model(&models.ClubMembership{}).Where("id = ?", p.ReferenceID).Updates(map[string]any{
			"status":     models.MembershipStatusActive,
			"payment_id": p.ID,
			"started_at": now,
			"expires_at": now.AddDate(membershipTerm, 0, 0),
		})
	default:
		return fmt.Errorf("payment %s has type %q: %w", p.ID, p.PaymentType, errUnknownPayment)
	}
	if res.Error != nil {
		return fmt.Errorf("failed to confirm %s: %w", p.PaymentType, res.Error)
	}
	if res.RowsAffected == 0 {
		logctx.FromCtx(ctx, r.log).Warnw("paid purchase has no target row",
			"payment_id", p.ID, "payment_type", p.PaymentType, "reference_id", p.ReferenceID)
	}
	return nil
}

func (r *Reconciler) onCheckoutFailed(ctx context.Context, eventType stripe.EventType, raw json.RawMessage) (*outcome, error) {
	cs, err := sb.Decode[sb.CheckoutSession](raw)
	if err != nil {
		return ignored(err.Error()), nil
	}
	if cs.Mode != string(stripe.CheckoutSessionModePayment) {
		return ignored("not a one-time checkout"), nil
	}
	paymentID := checkoutPaymentID(cs)
	if paymentID == "" {
		return nil, fmt.Errorf("checkout %s: %w", cs.ID, errUnknownPayment)
	}

	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, types.PaymentStatusPending).
		Updates(map[string]any{
			"status":                     types.PaymentStatusFailed,
			"stripe_checkout_session_id": cs.ID,
			"failure_reason":             string(eventType),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to mark payment failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ignored("payment not pending"), nil
	}
	return handled("", "", string(types.PaymentStatusFailed)), nil
}

// onChargeRefunded moves a payment to refunded or partially_refunded. A full
// refund also cancels the purchase.
func (r *Reconciler) onChargeRefunded(ctx context.Context, raw json.RawMessage) (*outcome, error) {
	ch, err := sb.Decode[sb.Charge](raw)
	if err != nil {
		return ignored(err.Error()), nil
	}
	intentID := ch.PaymentIntent.String()
	if intentID == "" {
		return ignored("charge without payment intent"), nil
	}
	status := types.PaymentStatusPartiallyRefunded
	if ch.Refunded || ch.AmountRefunded >= ch.Amount {
		status = types.PaymentStatusRefunded
	}
	now := r.now()

	var payment models.Payment
	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("stripe_payment_intent_id = ?", intentID).Take(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if !payment.Status.Refundable() {
			return nil
		}
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status IN ?", payment.ID, []types.PaymentStatus{types.PaymentStatusSucceeded, types.PaymentStatusPartiallyRefunded}).
			Updates(map[string]any{
				"status":                status,
				"refunded_amount_cents": ch.AmountRefunded,
				"refunded_at":           now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to mark payment refunded: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		if status == types.PaymentStatusRefunded {
			return cancelPurchase(tx, &payment)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply refund of %s: %w", ch.ID, err)
	}
	if !applied {
		return ignored("no refundable payment for charge"), nil
	}
	return handled("", payment.UserID, string(status)), nil
}

func cancelPurchase(tx *gorm.DB, p *models.Payment) error {
	var model any
	var status any
	switch p.PaymentType {
	case types.PaymentTypeBooking:
		model, status = &models.Booking{}, models.BookingStatusCancelled
	case types.PaymentTypeTournamentRegistration:
		model, status = &models.TournamentRegistration{}, models.RegistrationStatusCancelled
	case types.PaymentTypeClubMembership:
		model, status = &models.ClubMembership{}, models.MembershipStatusCancelled
	default:
		return nil
	}
	if err := tx.Model(model).Where("id = ?", p.ReferenceID).Update("status", status).Error; err != nil {
		return fmt.Errorf("failed to cancel %s: %w", p.PaymentType, err)
	}
	return nil
}
