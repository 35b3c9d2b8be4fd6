package stripe_billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// Metadata keys set on Stripe objects at checkout time.
const (
	MetaKind         = "kind"
	MetaUserID       = "user_id"
	MetaAuthorID     = "author_id"
	MetaSubscriberID = "subscriber_id"
	MetaPaymentID    = "payment_id"
	MetaPaymentType  = "payment_type"
	MetaReferenceID  = "reference_id"
)

// ExpandableID decodes a Stripe reference that is either an id string or an
// expanded object carrying an "id".
type ExpandableID string

func (e *ExpandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ExpandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("expandable id: %w", err)
	}
	*e = ExpandableID(obj.ID)
	return nil
}

func (e ExpandableID) String() string { return string(e) }

// Metadata is a Stripe metadata map.
type Metadata map[string]string

// Kind resolves the billing discriminator. An explicit "kind" wins; otherwise
// an author_id marks an author subscription and a user_id a platform one.
// Returns "" when neither is present.
func (m Metadata) Kind() types.SubscriptionKind {
	switch types.SubscriptionKind(m[MetaKind]) {
	case types.SubscriptionKindAuthor:
		return types.SubscriptionKindAuthor
	case types.SubscriptionKindPlatform:
		return types.SubscriptionKindPlatform
	}
	if m[MetaAuthorID] != "" {
		return types.SubscriptionKindAuthor
	}
	if m[MetaUserID] != "" {
		return types.SubscriptionKindPlatform
	}
	return ""
}

// SubscriberID is the paying user of an author subscription.
func (m Metadata) SubscriberID() string {
	if v := m[MetaSubscriberID]; v != "" {
		return v
	}
	return m[MetaUserID]
}

type Price struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Recurring  *struct {
		Interval      string `json:"interval"`
		IntervalCount int64  `json:"interval_count"`
	} `json:"recurring"`
}

type SubscriptionItem struct {
	ID                 string `json:"id"`
	Quantity           int64  `json:"quantity"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Price              Price  `json:"price"`
}

// Subscription is the part of a Stripe subscription the reconciler reads.
// Period bounds live at the top level on older API versions and on the
// items since 2025-03-31.basil; both are accepted.
type Subscription struct {
	ID                 string                   `json:"id"`
	Customer           ExpandableID             `json:"customer"`
	Status             types.SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd  bool                     `json:"cancel_at_period_end"`
	CanceledAt         int64                    `json:"canceled_at"`
	EndedAt            int64                    `json:"ended_at"`
	CurrentPeriodStart int64                    `json:"current_period_start"`
	CurrentPeriodEnd   int64                    `json:"current_period_end"`
	TrialStart         int64                    `json:"trial_start"`
	TrialEnd           int64                    `json:"trial_end"`
	Metadata           Metadata                 `json:"metadata"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

func (s *Subscription) firstItem() *SubscriptionItem {
	if len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0]
}

func (s *Subscription) PeriodStart() *time.Time {
	if s.CurrentPeriodStart != 0 {
		return unixPtr(s.CurrentPeriodStart)
	}
	if it := s.firstItem(); it != nil {
		return unixPtr(it.CurrentPeriodStart)
	}
	return nil
}

func (s *Subscription) PeriodEnd() *time.Time {
	if s.CurrentPeriodEnd != 0 {
		return unixPtr(s.CurrentPeriodEnd)
	}
	if it := s.firstItem(); it != nil {
		return unixPtr(it.CurrentPeriodEnd)
	}
	return nil
}

func (s *Subscription) TrialStartAt() *time.Time { return unixPtr(s.TrialStart) }
func (s *Subscription) TrialEndAt() *time.Time   { return unixPtr(s.TrialEnd) }
func (s *Subscription) CanceledAtTime() *time.Time {
	if s.CanceledAt != 0 {
		return unixPtr(s.CanceledAt)
	}
	return unixPtr(s.EndedAt)
}

func (s *Subscription) PriceID() string {
	if it := s.firstItem(); it != nil {
		return it.Price.ID
	}
	return ""
}

// MonthlyAmountCents is the recurring amount normalised to one month.
func (s *Subscription) MonthlyAmountCents() int64 {
	var total int64
	for _, it := range s.Items.Data {
		qty := it.Quantity
		if qty == 0 {
			qty = 1
		}
		amount := it.Price.UnitAmount * qty
		if r := it.Price.Recurring; r != nil {
			count := r.IntervalCount
			if count == 0 {
				count = 1
			}
			switch r.Interval {
			case "year":
				amount = amount / (12 * count)
			case "week":
				amount = amount * 52 / (12 * count)
			case "day":
				amount = amount * 365 / (12 * count)
			default:
				amount = amount / count
			}
		}
		total += amount
	}
	return total
}

func (s *Subscription) Currency() string {
	if it := s.firstItem(); it != nil {
		return it.Price.Currency
	}
	return ""
}

// Invoice is the part of a Stripe invoice the reconciler reads. The
// subscription reference moved under parent.subscription_details in
// 2025-03-31.basil; the legacy top-level field is still honoured.
type Invoice struct {
	ID            string       `json:"id"`
	Customer      ExpandableID `json:"customer"`
	CustomerEmail string       `json:"customer_email"`
	BillingReason string       `json:"billing_reason"`
	AmountPaid    int64        `json:"amount_paid"`
	AmountDue     int64        `json:"amount_due"`
	Currency      string       `json:"currency"`
	HostedURL     string       `json:"hosted_invoice_url"`
	Subscription  ExpandableID `json:"subscription"`
	PaymentIntent ExpandableID `json:"payment_intent"`
	Created       int64        `json:"created"`

	SubscriptionDetails *struct {
		Metadata Metadata `json:"metadata"`
	} `json:"subscription_details"`
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription ExpandableID `json:"subscription"`
			Metadata     Metadata     `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`

	local Metadata
}

func (i *Invoice) SubscriptionID() string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != "" {
		return i.Parent.SubscriptionDetails.Subscription.String()
	}
	return i.Subscription.String()
}

func (i *Invoice) Metadata() Metadata {
	if i.local != nil {
		return i.local
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && len(i.Parent.SubscriptionDetails.Metadata) > 0 {
		return i.Parent.SubscriptionDetails.Metadata
	}
	if i.SubscriptionDetails != nil {
		return i.SubscriptionDetails.Metadata
	}
	return Metadata{}
}

// UseLocalMetadata replaces the provider metadata with ids resolved from
// local state, for invoices whose subscription carried none.
func (i *Invoice) UseLocalMetadata(m Metadata) {
	i.local = m
}

// LedgerReason tags the ledger row by billing reason.
func (i *Invoice) LedgerReason() types.LedgerReason {
	if i.BillingReason == "subscription_create" {
		return types.LedgerReasonInitialSubscription
	}
	return types.LedgerReasonRenewal
}

func (i *Invoice) PaidAt() time.Time {
	if i.StatusTransitions.PaidAt != 0 {
		return time.Unix(i.StatusTransitions.PaidAt, 0).UTC()
	}
	if i.Created != 0 {
		return time.Unix(i.Created, 0).UTC()
	}
	return time.Now().UTC()
}

// CheckoutSession is the part of a Stripe checkout session used for one-time payments.
type CheckoutSession struct {
	ID                string       `json:"id"`
	Mode              string       `json:"mode"`
	PaymentStatus     string       `json:"payment_status"`
	ClientReferenceID string       `json:"client_reference_id"`
	AmountTotal       int64        `json:"amount_total"`
	Currency          string       `json:"currency"`
	PaymentIntent     ExpandableID `json:"payment_intent"`
	Metadata          Metadata     `json:"metadata"`
}

// Charge is the part of a Stripe charge used for refunds.
type Charge struct {
	ID             string       `json:"id"`
	Amount         int64        `json:"amount"`
	AmountRefunded int64        `json:"amount_refunded"`
	Refunded       bool         `json:"refunded"`
	PaymentIntent  ExpandableID `json:"payment_intent"`
	Metadata       Metadata     `json:"metadata"`
}

// Decode unmarshals a raw event data object into T.
func Decode[T any](raw json.RawMessage) (*T, error) {
	var v T
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty event object")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

func unixPtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
