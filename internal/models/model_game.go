package models

import (
	"fmt"
	"time"

	"github.com/fatflowers/knightly/pkg/types"
)

// Game is a scheduled over-the-board game. A template has IsRecurring set;
// its materialized occurrences point back to it through ParentGameID.
type Game struct {
	ID           string           `gorm:"column:id;type:uuid;primary_key" json:"id"`
	CreatorID    string           `gorm:"column:creator_id;type:uuid;not null;index" json:"creator_id"`
	Title        string           `gorm:"column:title;type:varchar(255);not null" json:"title"`
	Description  string           `gorm:"column:description;type:text" json:"description"`
	VenueName    string           `gorm:"column:venue_name;type:varchar(255)" json:"venue_name"`
	VenueAddress string           `gorm:"column:venue_address;type:varchar(512)" json:"venue_address"`
	City         string           `gorm:"column:city;type:varchar(128)" json:"city"`
	GameDate     time.Time        `gorm:"column:game_date;type:date;not null;uniqueIndex:idx_games_parent_date,priority:2" json:"game_date"`
	StartTime    string           `gorm:"column:start_time;type:varchar(5);not null" json:"start_time"`
	TimeControl  string           `gorm:"column:time_control;type:varchar(64)" json:"time_control"`
	MinRating    *int             `gorm:"column:min_rating" json:"min_rating"`
	MaxRating    *int             `gorm:"column:max_rating" json:"max_rating"`
	MaxPlayers   int              `gorm:"column:max_players;not null;default:2" json:"max_players"`
	Status       types.GameStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`

	IsRecurring       bool                    `gorm:"column:is_recurring;not null;default:false" json:"is_recurring"`
	RecurrencePattern types.RecurrencePattern `gorm:"column:recurrence_pattern;type:varchar(32)" json:"recurrence_pattern"`
	RecurrenceDay     *int                    `gorm:"column:recurrence_day" json:"recurrence_day"`
	RecurrenceEndDate *time.Time              `gorm:"column:recurrence_end_date;type:date" json:"recurrence_end_date"`
	ParentGameID      *string                 `gorm:"column:parent_game_id;type:uuid;uniqueIndex:idx_games_parent_date,priority:1" json:"parent_game_id"`

	// ReminderSent latches once reminders were scheduled for the game.
	ReminderSent bool      `gorm:"column:reminder_sent;not null;default:false" json:"reminder_sent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Game) TableName() string { return "games" }

// StartTimeLayout is the zero-padded wall clock format of start_time, so
// string comparison in SQL orders times correctly.
const StartTimeLayout = "15:04"

// StartsAt combines GameDate and the "HH:MM" StartTime in loc.
func (g *Game) StartsAt(loc *time.Location) (time.Time, error) {
	clock, err := time.Parse(StartTimeLayout, g.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start_time %q: %w", g.StartTime, err)
	}
	y, m, d := g.GameDate.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// GameParticipant is a join of a user to a game. The creator is implicit and
// has no row here.
type GameParticipant struct {
	ID        string                  `gorm:"column:id;type:uuid;primary_key" json:"id"`
	GameID    string                  `gorm:"column:game_id;type:uuid;not null;uniqueIndex:idx_participant_game_user,priority:1" json:"game_id"`
	UserID    string                  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_participant_game_user,priority:2" json:"user_id"`
	Status    types.ParticipantStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (GameParticipant) TableName() string { return "game_participants" }

// GameWaitlist status only moves forward: waiting -> notified -> expired.
type GameWaitlist struct {
	ID         string               `gorm:"column:id;type:uuid;primary_key" json:"id"`
	GameID     string               `gorm:"column:game_id;type:uuid;not null;index" json:"game_id"`
	UserID     string               `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	Status     types.WaitlistStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	NotifiedAt *time.Time           `gorm:"column:notified_at" json:"notified_at"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func (GameWaitlist) TableName() string { return "game_waitlist" }

// VenueCheckin is an open session while CheckedOutAt is nil.
type VenueCheckin struct {
	ID             string     `gorm:"column:id;type:uuid;primary_key" json:"id"`
	VenueID        string     `gorm:"column:venue_id;type:uuid;not null;index" json:"venue_id"`
	UserID         string     `gorm:"column:user_id;type:uuid;not null;index" json:"user_id"`
	CheckedInAt    time.Time  `gorm:"column:checked_in_at;not null" json:"checked_in_at"`
	CheckedOutAt   *time.Time `gorm:"column:checked_out_at;index" json:"checked_out_at"`
	AutoCheckedOut bool       `gorm:"column:auto_checked_out;not null;default:false" json:"auto_checked_out"`
}

func (VenueCheckin) TableName() string { return "venue_checkins" }
