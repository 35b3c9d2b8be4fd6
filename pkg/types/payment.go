package types

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusSucceeded         PaymentStatus = "succeeded"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Refundable reports whether a refund may still be applied to the payment.
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusPartiallyRefunded
}

// PaymentType selects the domain effect of a one-time payment.
type PaymentType string

const (
	PaymentTypeBooking                PaymentType = "booking"
	PaymentTypeTournamentRegistration PaymentType = "tournament_registration"
	PaymentTypeClubMembership         PaymentType = "club_membership"
)
