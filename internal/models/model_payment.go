package models

import (
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// Payment is a one-time checkout payment. Status is the source of truth for
// refund eligibility.
type Payment struct {
	ID                      string              `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID                  string              `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	PaymentType             types.PaymentType   `gorm:"column:payment_type;type:varchar(32);not null" json:"payment_type"`
	ReferenceID             string              `gorm:"column:reference_id;type:uuid;not null" json:"reference_id"`
	AmountCents             int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	Currency                string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	Status                  types.PaymentStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	StripeCheckoutSessionID string              `gorm:"column:stripe_checkout_session_id;type:varchar(128);uniqueIndex" json:"stripe_checkout_session_id"`
	StripePaymentIntentID   *string             `gorm:"column:stripe_payment_intent_id;type:varchar(64);index" json:"stripe_payment_intent_id"`
	RefundedAmountCents     int64               `gorm:"column:refunded_amount_cents;not null;default:0" json:"refunded_amount_cents"`
	FailureReason           string              `gorm:"column:failure_reason;type:varchar(255)" json:"failure_reason"`
	PaidAt                  *time.Time          `gorm:"column:paid_at" json:"paid_at"`
	RefundedAt              *time.Time          `gorm:"column:refunded_at" json:"refunded_at"`
	CreatedAt               time.Time           `json:"created_at"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking reserves a venue table; confirmed once its payment succeeds.
type Booking struct {
	ID          string        `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID      string        `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	VenueID     string        `gorm:"column:venue_id;type:uuid;not null" json:"venue_id"`
	Status      BookingStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PaymentID   *string       `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	ConfirmedAt *time.Time    `gorm:"column:confirmed_at" json:"confirmed_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Booking) TableName() string { return "bookings" }

type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "pending"
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	RegistrationStatusCancelled RegistrationStatus = "cancelled"
)

type TournamentRegistration struct {
	ID           string             `gorm:"column:id;type:uuid;primary_key" json:"id"`
	TournamentID string             `gorm:"column:tournament_id;type:uuid;not null;index" json:"tournament_id"`
	UserID       string             `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Status       RegistrationStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PaymentID    *string            `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	ConfirmedAt  *time.Time         `gorm:"column:confirmed_at" json:"confirmed_at"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (TournamentRegistration) TableName() string { return "tournament_registrations" }

type MembershipStatus string

const (
	MembershipStatusPending   MembershipStatus = "pending"
	MembershipStatusActive    MembershipStatus = "active"
	MembershipStatusCancelled MembershipStatus = "cancelled"
)

type ClubMembership struct {
	ID        string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ClubID    string           `gorm:"column:club_id;type:uuid;not null;index" json:"club_id"`
	UserID    string           `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Status    MembershipStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	PaymentID *string          `gorm:"column:payment_id;type:uuid" json:"payment_id"`
	StartedAt *time.Time       `gorm:"column:started_at" json:"started_at"`
	ExpiresAt *time.Time       `gorm:"column:expires_at" json:"expires_at"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func (ClubMembership) TableName() string { return "club_memberships" }
