package models

import (
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// Subscription is the platform (premium) subscription of a user. Canceled
// subscriptions stay as history with Status=canceled.
type Subscription struct {
	ID                   string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID               string                   `gorm:"column:user_id;type:uuid;not null;uniqueIndex" json:"user_id"`
	Tier                 types.Tier               `gorm:"column:tier;type:varchar(32);not null" json:"tier"`
	Status               types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;type:varchar(64);uniqueIndex" json:"stripe_subscription_id"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;type:varchar(64)" json:"stripe_customer_id"`
	StripePriceID        string                   `gorm:"column:stripe_price_id;type:varchar(64)" json:"stripe_price_id"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start" json:"current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end" json:"current_period_end"`
	TrialStart           *time.Time               `gorm:"column:trial_start" json:"trial_start"`
	TrialEnd             *time.Time               `gorm:"column:trial_end" json:"trial_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at" json:"canceled_at"`
	SyncedAt             *time.Time               `gorm:"column:synced_at" json:"synced_at"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Valid reports whether the subscription currently grants premium.
func (s *Subscription) Valid() bool {
	return s != nil && s.Status.Entitled()
}

// AuthorSubscription is a reader's paid subscription to a content author.
type AuthorSubscription struct {
	ID                   string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	AuthorID             string                   `gorm:"column:author_id;type:uuid;not null;uniqueIndex:idx_author_subscriber,priority:1" json:"author_id"`
	SubscriberID         string                   `gorm:"column:subscriber_id;type:uuid;not null;uniqueIndex:idx_author_subscriber,priority:2" json:"subscriber_id"`
	Status               types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;type:varchar(64);uniqueIndex" json:"stripe_subscription_id"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;type:varchar(64)" json:"stripe_customer_id"`
	AmountCents          int64                    `gorm:"column:amount_cents;not null;default:0" json:"amount_cents"`
	Currency             string                   `gorm:"column:currency;type:varchar(8)" json:"currency"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at" json:"canceled_at"`
	CreatedAt            time.Time                `json:"created_at"`
	UpdatedAt            time.Time                `json:"updated_at"`
}

func (AuthorSubscription) TableName() string { return "author_subscriptions" }

// SubscriptionPayment is the revenue ledger. One row per paid invoice; the
// unique keys make replays a no-op.
type SubscriptionPayment struct {
	ID                    string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Kind                  types.SubscriptionKind `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	Reason                types.LedgerReason     `gorm:"column:reason;type:varchar(32);not null" json:"reason"`
	UserID                string                 `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	AuthorID              *string                `gorm:"column:author_id;type:uuid;index" json:"author_id"`
	StripeInvoiceID       string                 `gorm:"column:stripe_invoice_id;type:varchar(64);not null;uniqueIndex" json:"stripe_invoice_id"`
	StripePaymentIntentID *string                `gorm:"column:stripe_payment_intent_id;type:varchar(64);uniqueIndex" json:"stripe_payment_intent_id"`
	StripeSubscriptionID  string                 `gorm:"column:stripe_subscription_id;type:varchar(64);index" json:"stripe_subscription_id"`
	AmountCents           int64                  `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency              string                 `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	PaidAt                time.Time              `gorm:"column:paid_at;not null" json:"paid_at"`
	CreatedAt             time.Time              `json:"created_at"`
}

func (SubscriptionPayment) TableName() string { return "subscription_payments" }

// SubscriptionQuotaUsage is one row per allowed quota-consuming action.
type SubscriptionQuotaUsage struct {
	ID        string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID    string     `gorm:"column:user_id;type:uuid;not null;index:idx_quota_usage_user_period,priority:1" json:"user_id"`
	Action    string     `gorm:"column:action;type:varchar(64);not null" json:"action"`
	Period    string     `gorm:"column:period;type:varchar(7);not null;index:idx_quota_usage_user_period,priority:2" json:"period"`
	Tier      types.Tier `gorm:"column:tier;type:varchar(32);not null" json:"tier"`
	InTrial   bool       `gorm:"column:in_trial;not null" json:"in_trial"`
	CreatedAt time.Time  `json:"created_at"`
}

func (SubscriptionQuotaUsage) TableName() string { return "subscription_quota_usage" }
