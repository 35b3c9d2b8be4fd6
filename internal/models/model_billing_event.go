package models

import (
	"time"

	"gorm.io/datatypes"
)

type BillingEventStatus string

const (
	BillingEventStatusReceived     BillingEventStatus = "received"
	BillingEventStatusHandled      BillingEventStatus = "handled"
	BillingEventStatusIgnored      BillingEventStatus = "ignored"
	BillingEventStatusHandleFailed BillingEventStatus = "handle_failed"
)

// BillingEvent is both the webhook audit log and the dedup ledger: the
// provider's event id is the primary key, and a row can only be re-claimed
// after a failed attempt.
type BillingEvent struct {
	ID             string             `gorm:"column:id;type:varchar(128);primary_key" json:"id"`
	Type           string             `gorm:"column:type;type:varchar(128);not null;index" json:"type"`
	Status         BillingEventStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	Attempts       int                `gorm:"column:attempts;not null;default:1" json:"attempts"`
	TraceID        string             `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Livemode       bool               `gorm:"column:livemode;not null;default:false" json:"livemode"`
	EventCreatedAt time.Time          `gorm:"column:event_created_at" json:"event_created_at"`
	Data           datatypes.JSON     `gorm:"column:data;type:jsonb" json:"data"`
	Result         *datatypes.JSON    `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func (BillingEvent) TableName() string { return "billing_events" }
