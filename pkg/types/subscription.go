package types

import "time"

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// SubscriptionStatus mirrors the billing provider's subscription status values.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// Entitled reports whether the status grants premium features.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// TierFromStatus is the only place a tier is derived from a billing status.
func TierFromStatus(s SubscriptionStatus) Tier {
	if s.Entitled() {
		return TierPremium
	}
	return TierFree
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCreated       SubscriptionChangeReason = "created"
	SubscriptionChangeReasonUpdated       SubscriptionChangeReason = "updated"
	SubscriptionChangeReasonDeleted       SubscriptionChangeReason = "deleted"
	SubscriptionChangeReasonPaymentOK     SubscriptionChangeReason = "payment_succeeded"
	SubscriptionChangeReasonPaymentFailed SubscriptionChangeReason = "payment_failed"
	SubscriptionChangeReasonTrialExpired  SubscriptionChangeReason = "trial_expired"
	SubscriptionChangeReasonSync          SubscriptionChangeReason = "sync"
)

// SubscriptionKind is the explicit discriminator between platform and author billing.
type SubscriptionKind string

const (
	SubscriptionKindPlatform SubscriptionKind = "platform"
	SubscriptionKindAuthor   SubscriptionKind = "author"
)

// LedgerReason tags a revenue ledger row.
type LedgerReason string

const (
	LedgerReasonInitialSubscription LedgerReason = "initial_subscription"
	LedgerReasonRenewal             LedgerReason = "renewal"
)

type BillingPeriod struct {
	Start             *time.Time `json:"start"`
	End               *time.Time `json:"end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
}
