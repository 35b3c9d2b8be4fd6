package billing

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"

	"github.com/fatflowers/knightly/internal/models"
)

var paymentColumns = []string{"id", "user_id", "payment_type", "reference_id", "amount_cents", "currency", "status"}

func TestHandleEvent_CheckoutCompletedConfirmsBooking(t *testing.T) {
	r, mock, _ := newTestReconciler(t)
	payload := `{"id": "cs_1", "mode": "payment", "payment_status": "paid", "payment_intent": "pi_7", "metadata": {"payment_id": "pay-1"}}`

	expectClaim(mock, true)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(paymentColumns).AddRow("pay-1", "user-1", "booking", "booking-1", 1500, "usd", "succeeded"))
	mock.ExpectExec(`UPDATE "bookings" SET "confirmed_at"=\$1,"payment_id"=\$2,"status"=\$3,"updated_at"=\$4 WHERE id = \$5`).
		WithArgs(fixedNow, "pay-1", "confirmed", sqlmock.AnyArg(), "booking-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectFinish(mock, models.BillingEventStatusHandled)

	require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_cs", stripe.EventTypeCheckoutSessionCompleted, payload)))
}

func TestHandleEvent_CheckoutCompletedActivatesMembership(t *testing.T) {
	r, mock, _ := newTestReconciler(t)
	payload := `{"id": "cs_2", "mode": "payment", "payment_status": "paid", "client_reference_id": "pay-2"}`

	expectClaim(mock, true)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "payments"`).
		WillReturnRows(sqlmock.NewRows(paymentColumns).AddRow("pay-2", "user-1", "club_membership", "membership-1", 5000, "usd", "succeeded"))
	mock.ExpectExec(`UPDATE "club_memberships" SET "expires_at"=\$1,"payment_id"=\$2,"started_at"=\$3,"status"=\$4`).
		WithArgs(fixedNow.AddDate(1, 0, 0), "pay-2", fixedNow, "active", sqlmock.AnyArg(), "membership-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectFinish(mock, models.BillingEventStatusHandled)

	require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_cs2", stripe.EventTypeCheckoutSessionCompleted, payload)))
}

func TestHandleEvent_CheckoutAlreadyProcessed(t *testing.T) {
	r, mock, _ := newTestReconciler(t)
	payload := `{"id": "cs_1", "mode": "payment", "payment_status": "paid", "metadata": {"payment_id": "pay-1"}}`

	expectClaim(mock, true)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "payments" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	expectFinish(mock, models.BillingEventStatusIgnored)

	require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_cs_again", stripe.EventTypeCheckoutSessionCompleted, payload)))
}

func TestHandleEvent_SubscriptionCheckoutIsIgnored(t *testing.T) {
	r, mock, _ := newTestReconciler(t)

	expectClaim(mock, true)
	expectFinish(mock, models.BillingEventStatusIgnored)

	payload := `{"id": "cs_sub", "mode": "subscription", "payment_status": "paid"}`
	require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_cs_sub", stripe.EventTypeCheckoutSessionCompleted, payload)))
}

func TestHandleEvent_CheckoutExpiredFailsPayment(t *testing.T) {
	r, mock, _ := newTestReconciler(t)
	payload := `{"id": "cs_3", "mode": "payment", "payment_status": "unpaid", "metadata": {"payment_id": "pay-3"}}`

	expectClaim(mock, true)
	mock.ExpectExec(`UPDATE "payments" SET "failure_reason"=\$1,"status"=\$2,"stripe_checkout_session_id"=\$3`).
		WithArgs("checkout.session.expired", "failed", "cs_3", sqlmock.AnyArg(), "pay-3", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectFinish(mock, models.BillingEventStatusHandled)

	require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_exp", stripe.EventTypeCheckoutSessionExpired, payload)))
}

func TestHandleEvent_ChargeRefunded(t *testing.T) {
	tests := []struct {
		name         string
		refunded     string
		wantStatus   string
		cancelTarget bool
	}{
		{name: "full refund cancels the purchase", refunded: `"amount_refunded": 5000, "refunded": true`, wantStatus: "refunded", cancelTarget: true},
		{name: "partial refund keeps the purchase", refunded: `"amount_refunded": 1000, "refunded": false`, wantStatus: "partially_refunded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, mock, _ := newTestReconciler(t)
			payload := `{"id": "ch_1", "amount": 5000, ` + tt.refunded + `, "payment_intent": "pi_9"}`

			expectClaim(mock, true)
			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT \* FROM "payments" WHERE stripe_payment_intent_id = \$1`).
				WillReturnRows(sqlmock.NewRows(paymentColumns).AddRow("pay-9", "user-1", "club_membership", "membership-9", 5000, "usd", "succeeded"))
			mock.ExpectExec(`UPDATE "payments" SET "refunded_amount_cents"=\$1,"refunded_at"=\$2,"status"=\$3`).
				WillReturnResult(sqlmock.NewResult(0, 1))
			if tt.cancelTarget {
				mock.ExpectExec(`UPDATE "club_memberships" SET "status"=\$1,"updated_at"=\$2 WHERE id = \$3`).
					WithArgs("cancelled", sqlmock.AnyArg(), "membership-9").
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectCommit()
			expectFinish(mock, models.BillingEventStatusHandled)

			require.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_ref", stripe.EventTypeChargeRefunded, payload)))
		})
	}
}

func TestHandleEvent_RefundOfUnknownChargeIsIgnored(t *testing.T) {
	r, mock, _ := newTestReconciler(t)

	expectClaim(mock, true)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "payments"`).WillReturnRows(sqlmock.NewRows(paymentColumns))
	mock.ExpectCommit()
	expectFinish(mock, models.BillingEventStatusIgnored)

	payload := `{"id": "ch_x", "amount": 499, "amount_refunded": 499, "refunded": true, "payment_intent": "pi_sub"}`
	assert.NoError(t, r.HandleEvent(context.Background(), newEvent("evt_ref_x", stripe.EventTypeChargeRefunded, payload)))
}
