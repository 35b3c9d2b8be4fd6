package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/internal/platform/db"
	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/metrics"
	"github.com/fatflowers/knightly/pkg/tool"
	"github.com/fatflowers/knightly/pkg/types"
)

// Unlimited is reported as limit and remaining for uncapped users.
const Unlimited = -1

// ActionGameCreated is the usage-log action of CheckAndIncrementGameQuota.
const ActionGameCreated = "game_created"

var ErrUserNotFound = errors.New("user not found")

type Service struct {
	db        *gorm.DB
	log       *zap.SugaredLogger
	metrics   *metrics.Recorder
	freeLimit int
	now       func() time.Time
}

func NewService(cfg *config.Config, gdb *gorm.DB, log *zap.SugaredLogger, rec *metrics.Recorder) *Service {
	return &Service{db: gdb, log: log, metrics: rec, freeLimit: cfg.Quota.FreeGamesPerMonth, now: time.Now}
}

// GameQuotaResult is the admission decision for one game creation.
type GameQuotaResult struct {
	Allowed         bool       `json:"allowed"`
	Remaining       int        `json:"remaining"`
	Limit           int        `json:"limit"`
	Used            int        `json:"used"`
	Tier            types.Tier `json:"tier"`
	InTrial         bool       `json:"in_trial"`
	RequiresUpgrade bool       `json:"requires_upgrade"`
	TrialEndsAt     *time.Time `json:"trial_ends_at,omitempty"`
}

// quotaSnapshot is the locked user row joined with its subscription status.
type quotaSnapshot struct {
	ID                    string
	SubscriptionTier      types.Tier
	TrialEndsAt           *time.Time
	GamesCreatedThisMonth int
	SubscriptionStatus    *types.SubscriptionStatus
}

// effectiveTier trusts the cached tier unless a subscription row exists whose
// status no longer entitles premium.
func (q quotaSnapshot) effectiveTier() types.Tier {
	if q.SubscriptionStatus != nil && *q.SubscriptionStatus != "" {
		return types.TierFromStatus(*q.SubscriptionStatus)
	}
	if q.SubscriptionTier == types.TierPremium {
		return types.TierPremium
	}
	return types.TierFree
}

// LimitFor returns the monthly game limit of a tier.
func (s *Service) LimitFor(tier types.Tier) int {
	if tier == types.TierPremium {
		return Unlimited
	}
	return s.freeLimit
}

// decide applies the admission order: open trial, then premium, then the
// free-tier counter. Used reflects the counter after an allowed increment.
func decide(q quotaSnapshot, freeLimit int, now time.Time) GameQuotaResult {
	tier := q.effectiveTier()
	res := GameQuotaResult{Tier: tier, Used: q.GamesCreatedThisMonth, TrialEndsAt: q.TrialEndsAt}

	switch {
	case q.TrialEndsAt != nil && q.TrialEndsAt.After(now):
		res.Allowed, res.InTrial = true, true
		res.Remaining, res.Limit = Unlimited, Unlimited
	case tier == types.TierPremium:
		res.Allowed = true
		res.Remaining, res.Limit = Unlimited, Unlimited
	case q.GamesCreatedThisMonth >= freeLimit:
		res.Limit = freeLimit
		res.Remaining = 0
		res.RequiresUpgrade = true
		return res
	default:
		res.Allowed = true
		res.Limit = freeLimit
		res.Remaining = freeLimit - (q.GamesCreatedThisMonth + 1)
	}
	res.Used++
	return res
}

const lockQuotaRowSQL = `SELECT u.id, u.subscription_tier, u.trial_ends_at, u.games_created_this_month, s.status AS subscription_status
FROM users u
LEFT JOIN subscriptions s ON s.user_id = u.id
WHERE u.id = ?
FOR UPDATE OF u`

// CheckAndIncrementGameQuota decides whether userID may create another game
// this month. An allowed decision increments the counter and writes a usage
// row in the same transaction; a denial writes nothing.
func (s *Service) CheckAndIncrementGameQuota(ctx context.Context, userID string) (*GameQuotaResult, error) {
	var res GameQuotaResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var snap quotaSnapshot
		if err := tx.Raw(lockQuotaRowSQL, userID).Scan(&snap).Error; err != nil {
			return fmt.Errorf("failed to lock quota row: %w", err)
		}
		if snap.ID == "" {
			return ErrUserNotFound
		}

		now := s.now()
		res = decide(snap, s.freeLimit, now)
		if !res.Allowed {
			return nil
		}

		if err := tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("games_created_this_month", gorm.Expr("games_created_this_month + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to increment game counter: %w", err)
		}
		usage := &models.SubscriptionQuotaUsage{
			ID:        tool.GenerateUUIDV7(),
			UserID:    userID,
			Action:    ActionGameCreated,
			Period:    tool.MonthKey(now),
			Tier:      res.Tier,
			InTrial:   res.InTrial,
			CreatedAt: now,
		}
		if err := tx.Create(usage).Error; err != nil {
			return fmt.Errorf("failed to log quota usage: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to CheckAndIncrementGameQuota: %w", err)
	}

	s.metrics.QuotaDecision(string(res.Tier), res.Allowed)
	logctx.FromCtx(ctx, s.log).Infow("game quota decision",
		"user_id", userID, "allowed", res.Allowed, "tier", res.Tier, "in_trial", res.InTrial, "remaining", res.Remaining)
	return &res, nil
}

// SubscriptionStatus is the read-only projection served to clients.
type SubscriptionStatus struct {
	UserID                string                   `json:"user_id"`
	Tier                  types.Tier               `json:"tier"`
	Status                types.SubscriptionStatus `json:"status"`
	InTrial               bool                     `json:"in_trial"`
	TrialEndsAt           *time.Time               `json:"trial_ends_at"`
	GamesCreatedThisMonth int                      `json:"games_created_this_month"`
	Limit                 int                      `json:"limit"`
	Remaining             int                      `json:"remaining"`
	Period                types.BillingPeriod      `json:"billing_period"`
	HasSubscription       bool                     `json:"has_subscription"`
}

// GetSubscriptionStatus projects a user's tier, trial and quota usage. If the
// subscriptions table does not exist yet every user reads as free.
func (s *Service) GetSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	now := s.now()

	var subs []models.Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&subs).Error
	if err != nil {
		if db.IsUndefinedTable(err) {
			logctx.FromCtx(ctx, s.log).Warnw("subscriptions table missing, reporting free tier", "user_id", userID)
			return s.freeStatus(&user), nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	snap := quotaSnapshot{
		ID:                    user.ID,
		SubscriptionTier:      user.SubscriptionTier,
		TrialEndsAt:           user.TrialEndsAt,
		GamesCreatedThisMonth: user.GamesCreatedThisMonth,
	}
	out := &SubscriptionStatus{
		UserID:                user.ID,
		Status:                user.SubscriptionStatus,
		TrialEndsAt:           user.TrialEndsAt,
		InTrial:               user.InTrial(now),
		GamesCreatedThisMonth: user.GamesCreatedThisMonth,
	}
	if len(subs) > 0 {
		sub := subs[0]
		snap.SubscriptionStatus = &sub.Status
		out.Status = sub.Status
		out.HasSubscription = true
		out.Period = types.BillingPeriod{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd, CancelAtPeriodEnd: sub.CancelAtPeriodEnd}
	}
	out.Tier = snap.effectiveTier()
	if out.InTrial || out.Tier == types.TierPremium {
		out.Limit, out.Remaining = Unlimited, Unlimited
	} else {
		out.Limit = s.freeLimit
		out.Remaining = max(0, s.freeLimit-user.GamesCreatedThisMonth)
	}
	return out, nil
}

func (s *Service) freeStatus(user *models.User) *SubscriptionStatus {
	return &SubscriptionStatus{
		UserID:                user.ID,
		Tier:                  types.TierFree,
		GamesCreatedThisMonth: user.GamesCreatedThisMonth,
		Limit:                 s.freeLimit,
		Remaining:             max(0, s.freeLimit-user.GamesCreatedThisMonth),
	}
}

// ResetMonthlyQuotas zeroes every user's game counter. Running it twice in a
// month is harmless.
func (s *Service) ResetMonthlyQuotas(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).
		Model(&models.User{}).
		UpdateColumns(map[string]any{"games_created_this_month": 0, "quota_reset_at": s.now()})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reset monthly quotas: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ExpiredTrialUser is a user downgraded by ExpireTrials.
type ExpiredTrialUser struct {
	ID       string
	Email    string
	Username string
}

const expireTrialsSQL = `UPDATE users SET
	subscription_tier = ?,
	subscription_status = CASE
		WHEN subscription_status = ? AND NOT EXISTS (SELECT 1 FROM subscriptions m WHERE m.user_id = users.id) THEN ?
		ELSE subscription_status
	END,
	trial_ends_at = NULL,
	updated_at = ?
WHERE trial_ends_at IS NOT NULL
	AND trial_ends_at <= ?
	AND NOT EXISTS (
		SELECT 1 FROM subscriptions s WHERE s.user_id = users.id AND s.status = ?
	)
RETURNING id, email, username`

// ExpireTrials downgrades users whose trial ended without a paid subscription.
// Clearing trial_ends_at latches the downgrade so each user is returned once.
// The cached status is only rewritten for users with no subscriptions row;
// otherwise the billing reconciler owns it.
func (s *Service) ExpireTrials(ctx context.Context) ([]ExpiredTrialUser, error) {
	now := s.now()
	var users []ExpiredTrialUser
	err := s.db.WithContext(ctx).Raw(expireTrialsSQL,
		types.TierFree,
		types.SubscriptionStatusTrialing, types.SubscriptionStatusCanceled,
		now, now,
		types.SubscriptionStatusActive,
	).Scan(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to expire trials: %w", err)
	}
	return users, nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
