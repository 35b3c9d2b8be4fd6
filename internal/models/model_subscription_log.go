package models

import (
	"time"

	"github.com/fatflowers/knightly/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionLog records every change to a platform subscription.
// Use case: troubleshooting billing disputes and replays.
type SubscriptionLog struct {
	ID     string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID string `gorm:"column:user_id;type:uuid;index:idx_subscription_log_user_id_id,priority:1;not null"`
	// EventID is the billing event that caused the change; empty for jobs.
	EventID string                         `gorm:"column:event_id;type:varchar(128);index"`
	Reason  types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null"`
	// Before stores the row before the change; null on first insert.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb"`
	After  datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb"`
	// Extra stores trigger context such as the event type.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb"`
	CreatedAt time.Time
}

func (SubscriptionLog) TableName() string {
	return "subscription_logs"
}
