package stripe_billing

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/pkg/types"
)

func TestDecodeSubscriptionShapes(t *testing.T) {
	legacy := `{
		"id": "sub_1", "customer": "cus_1", "status": "trialing",
		"current_period_start": 1760000000, "current_period_end": 1762592000,
		"trial_end": 1761000000, "metadata": {"user_id": "u1"},
		"items": {"data": [{"price": {"id": "price_1", "unit_amount": 999, "currency": "eur"}}]}
	}`
	basil := `{
		"id": "sub_2", "customer": {"id": "cus_2", "object": "customer"}, "status": "active",
		"metadata": {"kind": "author", "author_id": "a1", "subscriber_id": "u2"},
		"items": {"data": [{"current_period_start": 1760000000, "current_period_end": 1762592000,
			"quantity": 1, "price": {"id": "price_2", "unit_amount": 12000, "currency": "usd",
			"recurring": {"interval": "year", "interval_count": 1}}}]}
	}`

	s1, err := Decode[Subscription](json.RawMessage(legacy))
	require.NoError(t, err)
	assert.Equal(t, "cus_1", s1.Customer.String())
	assert.Equal(t, time.Unix(1762592000, 0).UTC(), *s1.PeriodEnd())
	assert.Equal(t, types.SubscriptionKindPlatform, s1.Metadata.Kind())
	assert.Equal(t, "price_1", s1.PriceID())
	assert.Equal(t, int64(999), s1.MonthlyAmountCents())
	assert.NotNil(t, s1.TrialEndAt())
	assert.Nil(t, s1.TrialStartAt())

	s2, err := Decode[Subscription](json.RawMessage(basil))
	require.NoError(t, err)
	assert.Equal(t, "cus_2", s2.Customer.String())
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), *s2.PeriodStart())
	assert.Equal(t, types.SubscriptionKindAuthor, s2.Metadata.Kind())
	assert.Equal(t, "u2", s2.Metadata.SubscriberID())
	assert.Equal(t, int64(1000), s2.MonthlyAmountCents())
	assert.Equal(t, "usd", s2.Currency())
}

func TestMetadataKind(t *testing.T) {
	assert.Equal(t, types.SubscriptionKind(""), Metadata{}.Kind())
	assert.Equal(t, types.SubscriptionKindAuthor, Metadata{"author_id": "a"}.Kind())
	assert.Equal(t, types.SubscriptionKindPlatform, Metadata{"user_id": "u"}.Kind())
	// explicit kind wins over ambiguous keys
	assert.Equal(t, types.SubscriptionKindPlatform, Metadata{"kind": "platform", "author_id": "a", "user_id": "u"}.Kind())
	assert.Equal(t, types.SubscriptionKindAuthor, Metadata{"author_id": "a", "user_id": "u"}.Kind())
}

func TestDecodeInvoiceShapes(t *testing.T) {
	legacy := `{"id": "in_1", "subscription": "sub_1", "billing_reason": "subscription_create",
		"amount_paid": 999, "currency": "eur", "payment_intent": "pi_1",
		"subscription_details": {"metadata": {"user_id": "u1"}},
		"status_transitions": {"paid_at": 1760000000}}`
	basil := `{"id": "in_2", "billing_reason": "subscription_cycle", "amount_paid": 999, "currency": "eur",
		"parent": {"subscription_details": {"subscription": "sub_2", "metadata": {"author_id": "a1", "subscriber_id": "u2"}}}}`
	oneOff := `{"id": "in_3", "billing_reason": "manual", "amount_paid": 500, "currency": "eur"}`

	i1, err := Decode[Invoice](json.RawMessage(legacy))
	require.NoError(t, err)
	assert.Equal(t, "sub_1", i1.SubscriptionID())
	assert.Equal(t, "pi_1", i1.PaymentIntent.String())
	assert.Equal(t, types.LedgerReasonInitialSubscription, i1.LedgerReason())
	assert.Equal(t, "u1", i1.Metadata()[MetaUserID])
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), i1.PaidAt())

	i2, err := Decode[Invoice](json.RawMessage(basil))
	require.NoError(t, err)
	assert.Equal(t, "sub_2", i2.SubscriptionID())
	assert.Equal(t, types.LedgerReasonRenewal, i2.LedgerReason())
	assert.Equal(t, types.SubscriptionKindAuthor, i2.Metadata().Kind())

	i3, err := Decode[Invoice](json.RawMessage(oneOff))
	require.NoError(t, err)
	assert.Empty(t, i3.SubscriptionID())
	assert.Empty(t, i3.Metadata())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode[Invoice](nil)
	assert.Error(t, err)
	_, err = Decode[Invoice](json.RawMessage(`{"customer": 12}`))
	assert.Error(t, err)
}

func TestFromStripe(t *testing.T) {
	sub := &stripe.Subscription{
		ID:       "sub_9",
		Status:   stripe.SubscriptionStatusPastDue,
		Customer: &stripe.Customer{ID: "cus_9"},
		Metadata: map[string]string{"user_id": "u9"},
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			CurrentPeriodEnd: 1762592000,
			Price:            &stripe.Price{ID: "price_9", UnitAmount: 500, Currency: stripe.CurrencyEUR},
		}}},
	}
	got, err := FromStripe(sub)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPastDue, got.Status)
	assert.Equal(t, "cus_9", got.Customer.String())
	assert.Equal(t, time.Unix(1762592000, 0).UTC(), *got.PeriodEnd())
	assert.Equal(t, "price_9", got.PriceID())

	_, err = FromStripe(nil)
	assert.Error(t, err)
}
