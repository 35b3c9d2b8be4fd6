package models

import (
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// ScheduledNotification rows with Sent=false and ScheduledFor<=now form the
// dispatch queue. Once Sent is true the row is never touched again.
type ScheduledNotification struct {
	ID               string                 `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID           string                 `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_notification_natural_key,priority:1" json:"user_id"`
	GameID           string                 `gorm:"column:game_id;type:uuid;not null;uniqueIndex:idx_notification_natural_key,priority:2" json:"game_id"`
	NotificationType types.NotificationType `gorm:"column:notification_type;type:varchar(32);not null;uniqueIndex:idx_notification_natural_key,priority:3" json:"notification_type"`
	ScheduledFor     time.Time              `gorm:"column:scheduled_for;not null;index:idx_notification_due,priority:2" json:"scheduled_for"`
	Sent             bool                   `gorm:"column:sent;not null;default:false;index:idx_notification_due,priority:1" json:"sent"`
	SentAt           *time.Time             `gorm:"column:sent_at" json:"sent_at"`
	EmailSent        bool                   `gorm:"column:email_sent;not null;default:false" json:"email_sent"`
	CreatedAt        time.Time              `json:"created_at"`
}

func (ScheduledNotification) TableName() string { return "scheduled_notifications" }

const DefaultReminderHoursBefore = 24

type NotificationPreferences struct {
	ID                  string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	UserID              string    `gorm:"column:user_id;type:uuid;not null;uniqueIndex" json:"user_id"`
	EmailGameReminders  bool      `gorm:"column:email_game_reminders;not null;default:true" json:"email_game_reminders"`
	EmailGameUpdates    bool      `gorm:"column:email_game_updates;not null;default:true" json:"email_game_updates"`
	ReminderHoursBefore int       `gorm:"column:reminder_hours_before;not null;default:24" json:"reminder_hours_before"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (NotificationPreferences) TableName() string { return "notification_preferences" }

// DefaultNotificationPreferences applies when a user never saved preferences.
func DefaultNotificationPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:              userID,
		EmailGameReminders:  true,
		EmailGameUpdates:    true,
		ReminderHoursBefore: DefaultReminderHoursBefore,
	}
}

// Allows reports whether email for the notification type is enabled.
// Waitlist spots are game updates from the user's point of view.
func (p *NotificationPreferences) Allows(t types.NotificationType) bool {
	switch t {
	case types.NotificationTypeReminder:
		return p.EmailGameReminders
	case types.NotificationTypeGameUpdate, types.NotificationTypeWaitlistSpot:
		return p.EmailGameUpdates
	default:
		return false
	}
}

// HoursBefore returns the reminder lead time, substituting the default for
// non-positive values.
func (p *NotificationPreferences) HoursBefore() int {
	if p.ReminderHoursBefore <= 0 {
		return DefaultReminderHoursBefore
	}
	return p.ReminderHoursBefore
}
