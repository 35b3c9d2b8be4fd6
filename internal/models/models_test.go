package models

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/pkg/types"
)

func TestGameStartsAt(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	g := &Game{GameDate: time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC), StartTime: "19:30"}

	at, err := g.StartsAt(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 24, 19, 30, 0, 0, loc), at)

	g.StartTime = "7pm"
	_, err = g.StartsAt(loc)
	assert.Error(t, err)
}

func TestNotificationPreferences(t *testing.T) {
	def := DefaultNotificationPreferences("u1")
	assert.True(t, def.Allows(types.NotificationTypeReminder))
	assert.True(t, def.Allows(types.NotificationTypeWaitlistSpot))
	assert.Equal(t, 24, def.HoursBefore())

	p := &NotificationPreferences{EmailGameReminders: false, EmailGameUpdates: true, ReminderHoursBefore: 0}
	assert.False(t, p.Allows(types.NotificationTypeReminder))
	assert.True(t, p.Allows(types.NotificationTypeGameUpdate))
	assert.False(t, p.Allows("digest"))
	assert.Equal(t, DefaultReminderHoursBefore, p.HoursBefore())
}

func TestUserInTrial(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	u := &User{}
	assert.False(t, u.InTrial(now))
	u.TrialEndsAt = lo.ToPtr(now.Add(time.Hour))
	assert.True(t, u.InTrial(now))
	u.TrialEndsAt = lo.ToPtr(now)
	assert.False(t, u.InTrial(now))
}

func TestSubscriptionValid(t *testing.T) {
	var nilSub *Subscription
	assert.False(t, nilSub.Valid())
	assert.True(t, (&Subscription{Status: types.SubscriptionStatusTrialing}).Valid())
	assert.False(t, (&Subscription{Status: types.SubscriptionStatusPastDue}).Valid())
}
