package models

import (
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// User holds the subscription-relevant columns of the platform's users table.
// SubscriptionTier, SubscriptionStatus and TrialEndsAt are a cache of the
// subscriptions row and are written in the same transaction as it.
type User struct {
	ID                 string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email              string                   `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	Username           string                   `gorm:"column:username;type:varchar(64)" json:"username"`
	SubscriptionTier   types.Tier               `gorm:"column:subscription_tier;type:varchar(32);not null;default:'free'" json:"subscription_tier"`
	SubscriptionStatus types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(32);not null;default:''" json:"subscription_status"`
	TrialEndsAt        *time.Time               `gorm:"column:trial_ends_at;default:null" json:"trial_ends_at"`
	// GamesCreatedThisMonth only grows between monthly resets.
	GamesCreatedThisMonth int        `gorm:"column:games_created_this_month;not null;default:0" json:"games_created_this_month"`
	QuotaResetAt          *time.Time `gorm:"column:quota_reset_at;default:null" json:"quota_reset_at"`
	StripeCustomerID      *string    `gorm:"column:stripe_customer_id;type:varchar(64);index" json:"stripe_customer_id"`
	// Author metrics, recomputed from author_subscriptions on every author billing event.
	AuthorSubscriberCount int       `gorm:"column:author_subscriber_count;not null;default:0" json:"author_subscriber_count"`
	AuthorMRRCents        int64     `gorm:"column:author_mrr_cents;not null;default:0" json:"author_mrr_cents"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// DisplayName is used in email greetings.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// InTrial reports whether the trial window is still open at now.
func (u *User) InTrial(now time.Time) bool {
	return u.TrialEndsAt != nil && u.TrialEndsAt.After(now)
}
