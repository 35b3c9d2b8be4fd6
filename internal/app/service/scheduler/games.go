package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

func childOf(tpl *models.Game, date time.Time, now time.Time) *models.Game {
	parentID := tpl.ID
	return &models.Game{
		ID:           tool.GenerateUUIDV7(),
		CreatorID:    tpl.CreatorID,
		Title:        tpl.Title,
		Description:  tpl.Description,
		VenueName:    tpl.VenueName,
		VenueAddress: tpl.VenueAddress,
		City:         tpl.City,
		GameDate:     date,
		StartTime:    tpl.StartTime,
		TimeControl:  tpl.TimeControl,
		MinRating:    tpl.MinRating,
		MaxRating:    tpl.MaxRating,
		MaxPlayers:   tpl.MaxPlayers,
		Status:       types.GameStatusOpen,
		ParentGameID: &parentID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CreateRecurringGames materializes the next slot of every live template.
// The (parent_game_id, game_date) unique key makes each slot at-most-once.
func (j *Jobs) CreateRecurringGames(ctx context.Context) error {
	log := logctx.FromCtx(ctx, j.log)
	now := j.now()
	today := dateOf(now, j.loc)

	var (
		batch   []*models.Game
		created int64
		skipped int
		errs    []error
	)
	res := j.db.WithContext(ctx).
		Where("is_recurring = ? AND status IN ? AND (recurrence_end_date IS NULL OR recurrence_end_date >= ?)",
			true, []types.GameStatus{types.GameStatusOpen, types.GameStatusFull, types.GameStatusCompleted}, today).
		FindInBatches(&batch, j.batchSize, func(_ *gorm.DB, _ int) error {
			for _, tpl := range batch {
				next, err := NextOccurrence(tpl.GameDate, tpl.RecurrencePattern, today)
				if err != nil {
					skipped++
					log.Warnw("recurring game skipped", "game_id", tpl.ID, "err", err)
					continue
				}
				if tpl.RecurrenceEndDate != nil && next.After(dateOf(*tpl.RecurrenceEndDate, time.UTC)) {
					continue
				}
				ins := j.db.WithContext(ctx).
					Clauses(clause.OnConflict{
						Columns:   []clause.Column{{Name: "parent_game_id"}, {Name: "game_date"}},
						DoNothing: true,
					}).
					Create(childOf(tpl, next, now))
				if ins.Error != nil {
					errs = append(errs, fmt.Errorf("failed to create occurrence of %s: %w", tpl.ID, ins.Error))
					continue
				}
				created += ins.RowsAffected
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("failed to scan recurring games: %w", res.Error)
	}
	log.Infow("recurring games created", "created", created, "skipped", skipped, "failures", len(errs))
	return errors.Join(errs...)
}

const expireWaitlistSQL = `UPDATE game_waitlist SET status = ?, updated_at = ?
WHERE status = ? AND game_id IN (
	SELECT id FROM games
	WHERE status IN ? OR game_date < ? OR (game_date = ? AND start_time <= ?)
)`

// ExpireWaitlist expires waiting entries of games that are over or can no
// longer be joined.
func (j *Jobs) ExpireWaitlist(ctx context.Context) error {
	now := j.now()
	today := dateOf(now, j.loc)
	res := j.db.WithContext(ctx).Exec(expireWaitlistSQL,
		types.WaitlistStatusExpired, now, types.WaitlistStatusWaiting,
		[]types.GameStatus{types.GameStatusCancelled, types.GameStatusCompleted},
		today, today, now.In(j.loc).Format(models.StartTimeLayout))
	if res.Error != nil {
		return fmt.Errorf("failed to expire waitlist: %w", res.Error)
	}
	logctx.FromCtx(ctx, j.log).Infow("waitlist entries expired", "count", res.RowsAffected)
	return nil
}

// AutoCheckoutVenues closes every open check-in.
func (j *Jobs) AutoCheckoutVenues(ctx context.Context) error {
	res := j.db.WithContext(ctx).Model(&models.VenueCheckin{}).
		Where("checked_out_at IS NULL").
		Updates(map[string]any{"checked_out_at": j.now(), "auto_checked_out": true})
	if res.Error != nil {
		return fmt.Errorf("failed to close venue check-ins: %w", res.Error)
	}
	logctx.FromCtx(ctx, j.log).Infow("venue check-ins closed", "count", res.RowsAffected)
	return nil
}
