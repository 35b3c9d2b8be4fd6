package types

type GameStatus string

const (
	GameStatusOpen      GameStatus = "open"
	GameStatusFull      GameStatus = "full"
	GameStatusCancelled GameStatus = "cancelled"
	GameStatusCompleted GameStatus = "completed"
)

// Terminal reports whether the game no longer accepts players or notifications.
func (s GameStatus) Terminal() bool {
	return s == GameStatusCancelled || s == GameStatusCompleted
}

type RecurrencePattern string

const (
	RecurrenceWeekly   RecurrencePattern = "weekly"
	RecurrenceBiweekly RecurrencePattern = "biweekly"
	RecurrenceMonthly  RecurrencePattern = "monthly"
)

type ParticipantStatus string

const (
	ParticipantStatusConfirmed ParticipantStatus = "confirmed"
	ParticipantStatusPending   ParticipantStatus = "pending"
	ParticipantStatusLeft      ParticipantStatus = "left"
)

type WaitlistStatus string

const (
	WaitlistStatusWaiting  WaitlistStatus = "waiting"
	WaitlistStatusNotified WaitlistStatus = "notified"
	WaitlistStatusExpired  WaitlistStatus = "expired"
)

type NotificationType string

const (
	NotificationTypeReminder     NotificationType = "reminder"
	NotificationTypeGameUpdate   NotificationType = "game_update"
	NotificationTypeWaitlistSpot NotificationType = "waitlist_spot"
)
