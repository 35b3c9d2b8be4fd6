package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

var notificationTemplates = map[types.NotificationType]string{
	types.NotificationTypeReminder:     mailer.TemplateGameReminder,
	types.NotificationTypeGameUpdate:   mailer.TemplateGameUpdate,
	types.NotificationTypeWaitlistSpot: mailer.TemplateWaitlistSpot,
}

type dueNotification struct {
	ID               string
	UserID           string
	GameID           string
	NotificationType types.NotificationType
	Email            string
	Username         string
	GameTitle        string
	GameDate         time.Time
	StartTime        string
	VenueName        string
}

const dueNotificationsSQL = `SELECT n.id, n.user_id, n.game_id, n.notification_type,
	u.email, u.username, g.title AS game_title, g.game_date, g.start_time, g.venue_name
FROM scheduled_notifications n
JOIN games g ON g.id = n.game_id
JOIN users u ON u.id = n.user_id
WHERE n.sent = false AND n.scheduled_for <= ? AND g.status NOT IN ?
ORDER BY n.scheduled_for
LIMIT ?`

func displayName(username, email string) string {
	if username != "" {
		return username
	}
	return email
}

func (j *Jobs) preferences(ctx context.Context, userIDs []string) (map[string]*models.NotificationPreferences, error) {
	if len(userIDs) == 0 {
		return map[string]*models.NotificationPreferences{}, nil
	}
	var rows []*models.NotificationPreferences
	if err := j.db.WithContext(ctx).Where("user_id IN ?", lo.Uniq(userIDs)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load notification preferences: %w", err)
	}
	return lo.KeyBy(rows, func(p *models.NotificationPreferences) string { return p.UserID }), nil
}

func prefsFor(prefs map[string]*models.NotificationPreferences, userID string) *models.NotificationPreferences {
	if p, ok := prefs[userID]; ok {
		return p
	}
	return models.DefaultNotificationPreferences(userID)
}

// DispatchNotifications sends one batch of due notifications. Every row in
// the batch is marked sent whatever the delivery outcome; email_sent records
// whether the email went out.
func (j *Jobs) DispatchNotifications(ctx context.Context) error {
	log := logctx.FromCtx(ctx, j.log)
	now := j.now()

	var due []dueNotification
	closed := []types.GameStatus{types.GameStatusCancelled, types.GameStatusCompleted}
	if err := j.db.WithContext(ctx).Raw(dueNotificationsSQL, now, closed, j.batchSize).Scan(&due).Error; err != nil {
		return fmt.Errorf("failed to load due notifications: %w", err)
	}
	if len(due) == 0 {
		log.Infow("no notifications due")
		return nil
	}

	prefs, err := j.preferences(ctx, lo.Map(due, func(n dueNotification, _ int) string { return n.UserID }))
	if err != nil {
		return err
	}

	var errs []error
	delivered := 0
	for _, n := range due {
		ok := j.deliver(ctx, n, prefsFor(prefs, n.UserID))
		if ok {
			delivered++
		}
		if err := j.markSent(ctx, n.ID, now, ok); err != nil {
			errs = append(errs, err)
		}
	}
	log.Infow("notifications dispatched", "due", len(due), "delivered", delivered, "mark_failures", len(errs))
	return errors.Join(errs...)
}

func (j *Jobs) deliver(ctx context.Context, n dueNotification, p *models.NotificationPreferences) bool {
	log := logctx.FromCtx(ctx, j.log)
	if !p.Allows(n.NotificationType) {
		log.Debugw("notification suppressed by preferences", "notification_id", n.ID, "type", n.NotificationType)
		return false
	}
	template, ok := notificationTemplates[n.NotificationType]
	if !ok {
		log.Warnw("no template for notification type", "notification_id", n.ID, "type", n.NotificationType)
		return false
	}
	res := j.notifier.Send(ctx, n.Email, template, map[string]any{
		"Name":      displayName(n.Username, n.Email),
		"GameTitle": n.GameTitle,
		"GameDate":  n.GameDate,
		"StartTime": n.StartTime,
		"Venue":     n.VenueName,
		"Link":      j.notifier.Link("/games/" + n.GameID),
	})
	return res.Success
}

func (j *Jobs) markSent(ctx context.Context, id string, now time.Time, emailSent bool) error {
	err := j.db.WithContext(ctx).Model(&models.ScheduledNotification{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{"sent": true, "sent_at": now, "email_sent": emailSent}).Error
	if err != nil {
		return fmt.Errorf("failed to mark notification %s sent: %w", id, err)
	}
	return nil
}

// ScheduleReminders queues a reminder per participant for games starting
// within the next 48 hours, then latches reminder_sent on the game. People
// who join after the latch get no reminder. Games that already started are
// excluded and games with an unreadable start time are latched, so neither
// can crowd later games out of the batch.
func (j *Jobs) ScheduleReminders(ctx context.Context) error {
	log := logctx.FromCtx(ctx, j.log)
	now := j.now()
	horizon := now.Add(reminderHorizon)
	today := dateOf(now, j.loc)

	var games []*models.Game
	err := j.db.WithContext(ctx).
		Where("status IN ? AND reminder_sent = ? AND game_date BETWEEN ? AND ? AND (game_date > ? OR start_time > ?)",
			[]types.GameStatus{types.GameStatusOpen, types.GameStatusFull}, false, today, dateOf(horizon, j.loc),
			today, now.In(j.loc).Format(models.StartTimeLayout)).
		Order("game_date, start_time").
		Limit(j.batchSize).
		Find(&games).Error
	if err != nil {
		return fmt.Errorf("failed to load upcoming games: %w", err)
	}

	var errs []error
	scheduled, latched := int64(0), 0
	for _, g := range games {
		start, err := g.StartsAt(j.loc)
		if err != nil {
			log.Warnw("game has no usable start time, reminders skipped", "game_id", g.ID, "err", err)
			if err := j.latchReminders(ctx, g.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if !start.After(now) || start.After(horizon) {
			continue
		}
		n, err := j.scheduleGameReminders(ctx, g, start, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scheduled += n
		latched++
	}
	log.Infow("reminders scheduled", "games", latched, "reminders", scheduled, "failures", len(errs))
	return errors.Join(errs...)
}

func (j *Jobs) latchReminders(ctx context.Context, gameID string) error {
	err := j.db.WithContext(ctx).Model(&models.Game{}).
		Where("id = ? AND reminder_sent = ?", gameID, false).
		Update("reminder_sent", true).Error
	if err != nil {
		return fmt.Errorf("failed to latch reminders for game %s: %w", gameID, err)
	}
	return nil
}

func (j *Jobs) scheduleGameReminders(ctx context.Context, g *models.Game, start, now time.Time) (int64, error) {
	var joined []string
	err := j.db.WithContext(ctx).Model(&models.GameParticipant{}).
		Where("game_id = ? AND status = ?", g.ID, types.ParticipantStatusConfirmed).
		Pluck("user_id", &joined).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load participants of game %s: %w", g.ID, err)
	}
	users := lo.Uniq(append([]string{g.CreatorID}, joined...))
	prefs, err := j.preferences(ctx, users)
	if err != nil {
		return 0, err
	}

	var rows []*models.ScheduledNotification
	for _, uid := range users {
		at := start.Add(-time.Duration(prefsFor(prefs, uid).HoursBefore()) * time.Hour)
		if !at.After(now) {
			continue
		}
		rows = append(rows, &models.ScheduledNotification{
			ID:               tool.GenerateUUIDV7(),
			UserID:           uid,
			GameID:           g.ID,
			NotificationType: types.NotificationTypeReminder,
			ScheduledFor:     at,
			CreatedAt:        now,
		})
	}

	var inserted int64
	if len(rows) > 0 {
		res := j.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "game_id"}, {Name: "notification_type"}},
				DoNothing: true,
			}).
			Create(&rows)
		if res.Error != nil {
			return 0, fmt.Errorf("failed to insert reminders for game %s: %w", g.ID, res.Error)
		}
		inserted = res.RowsAffected
	}

	return inserted, j.latchReminders(ctx, g.ID)
}
