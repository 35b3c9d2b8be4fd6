package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/internal/app/service/quota"
	"github.com/fatflowers/knightly/internal/models"
	"github.com/fatflowers/knightly/internal/platform/mailer"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/internal/testutil"
	"github.com/fatflowers/knightly/pkg/config"
	"github.com/fatflowers/knightly/pkg/types"
)

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

type sentMail struct {
	to       string
	template string
	data     map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail bool
	sent []sentMail
}

func (f *fakeNotifier) Send(_ context.Context, to, template string, data map[string]any) mailer.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{to: to, template: template, data: data})
	if f.fail {
		return mailer.Result{Err: errors.New("smtp down")}
	}
	return mailer.Result{Success: true, MessageID: "msg-1"}
}

func (f *fakeNotifier) Link(path string) string { return "https://knightly.test" + path }

type fakeQuota struct {
	reset   int64
	expired []quota.ExpiredTrialUser
	err     error
}

func (f *fakeQuota) ResetMonthlyQuotas(context.Context) (int64, error) { return f.reset, f.err }

func (f *fakeQuota) ExpireTrials(context.Context) ([]quota.ExpiredTrialUser, error) {
	return f.expired, f.err
}

type applied struct {
	kind types.SubscriptionKind
	sub  *sb.Subscription
}

type fakeApplier struct {
	calls []applied
}

func (f *fakeApplier) ApplySubscriptionSnapshot(_ context.Context, kind types.SubscriptionKind, sub *sb.Subscription) error {
	f.calls = append(f.calls, applied{kind: kind, sub: sub})
	return nil
}

type fakeProvider struct {
	subs map[string]*sb.Subscription
	err  error
}

func (f *fakeProvider) GetSubscription(_ context.Context, id string) (*sb.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.subs[id]; ok {
		return s, nil
	}
	return nil, errors.New("resource_missing")
}

type fakeSnapshotter struct {
	date time.Time
}

func (f *fakeSnapshotter) SnapshotSubscriptions(_ context.Context, d time.Time) (int64, error) {
	f.date = d
	return 4, nil
}

type testJobs struct {
	*Jobs
	mock     sqlmock.Sqlmock
	notifier *fakeNotifier
	quota    *fakeQuota
	applier  *fakeApplier
	provider *fakeProvider
	stats    *fakeSnapshotter
}

func newTestJobs(t *testing.T) *testJobs {
	gdb, mock := testutil.NewMockDB(t)
	tj := &testJobs{
		mock:     mock,
		notifier: &fakeNotifier{},
		quota:    &fakeQuota{},
		applier:  &fakeApplier{},
		provider: &fakeProvider{subs: map[string]*sb.Subscription{}},
		stats:    &fakeSnapshotter{},
	}
	tj.Jobs = &Jobs{
		db:        gdb,
		log:       testutil.NopLogger(),
		notifier:  tj.notifier,
		quota:     tj.quota,
		billing:   tj.applier,
		provider:  tj.provider,
		stats:     tj.stats,
		loc:       time.UTC,
		batchSize: defaultBatchSize,
		now:       func() time.Time { return fixedNow },
	}
	return tj
}

var dueColumns = []string{"id", "user_id", "game_id", "notification_type", "email", "username", "game_title", "game_date", "start_time", "venue_name"}

var prefColumns = []string{"id", "user_id", "email_game_reminders", "email_game_updates", "reminder_hours_before"}

const markSentSQL = `UPDATE "scheduled_notifications" SET "email_sent"=\$1,"sent"=\$2,"sent_at"=\$3 WHERE id = \$4 AND sent = \$5`

func TestDispatchNotifications(t *testing.T) {
	tj := newTestJobs(t)
	gameDate := day(2026, 10, 15)

	tj.mock.ExpectQuery(`FROM scheduled_notifications n`).
		WithArgs(fixedNow, "cancelled", "completed", defaultBatchSize).
		WillReturnRows(sqlmock.NewRows(dueColumns).
			AddRow("n-1", "user-1", "game-1", "reminder", "ana@example.com", "ana", "Friday blitz", gameDate, "19:00", "Café Rook").
			AddRow("n-2", "user-2", "game-1", "game_update", "bo@example.com", "", "Friday blitz", gameDate, "19:00", "Café Rook"))
	tj.mock.ExpectQuery(`SELECT \* FROM "notification_preferences" WHERE user_id IN \(\$1,\$2\)`).
		WithArgs("user-1", "user-2").
		WillReturnRows(sqlmock.NewRows(prefColumns).AddRow("p-2", "user-2", true, false, 24))
	tj.mock.ExpectExec(markSentSQL).
		WithArgs(true, true, fixedNow, "n-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	tj.mock.ExpectExec(markSentSQL).
		WithArgs(false, true, fixedNow, "n-2", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tj.DispatchNotifications(context.Background()))

	require.Len(t, tj.notifier.sent, 1, "game updates are switched off for user-2")
	mail := tj.notifier.sent[0]
	assert.Equal(t, "ana@example.com", mail.to)
	assert.Equal(t, mailer.TemplateGameReminder, mail.template)
	assert.Equal(t, "ana", mail.data["Name"])
	assert.Equal(t, "Café Rook", mail.data["Venue"])
	assert.Equal(t, "https://knightly.test/games/game-1", mail.data["Link"])
}

func TestDispatchNotifications_FailedSendIsStillMarked(t *testing.T) {
	tj := newTestJobs(t)
	tj.notifier.fail = true

	tj.mock.ExpectQuery(`FROM scheduled_notifications n`).
		WillReturnRows(sqlmock.NewRows(dueColumns).
			AddRow("n-1", "user-1", "game-1", "waitlist_spot", "ana@example.com", "ana", "Friday blitz", day(2026, 10, 15), "19:00", ""))
	tj.mock.ExpectQuery(`SELECT \* FROM "notification_preferences"`).
		WillReturnRows(sqlmock.NewRows(prefColumns))
	tj.mock.ExpectExec(markSentSQL).
		WithArgs(false, true, fixedNow, "n-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tj.DispatchNotifications(context.Background()))
	require.Len(t, tj.notifier.sent, 1)
	assert.Equal(t, mailer.TemplateWaitlistSpot, tj.notifier.sent[0].template)
}

func TestDispatchNotifications_NothingDue(t *testing.T) {
	tj := newTestJobs(t)
	tj.mock.ExpectQuery(`FROM scheduled_notifications n`).WillReturnRows(sqlmock.NewRows(dueColumns))

	require.NoError(t, tj.DispatchNotifications(context.Background()))
	assert.Empty(t, tj.notifier.sent)
}

var gameColumns = []string{"id", "creator_id", "title", "game_date", "start_time", "status", "is_recurring", "recurrence_pattern", "recurrence_end_date", "reminder_sent", "max_players"}

func TestScheduleReminders(t *testing.T) {
	tj := newTestJobs(t)

	tj.mock.ExpectQuery(`SELECT \* FROM "games" WHERE status IN \(\$1,\$2\) AND reminder_sent = \$3 AND game_date BETWEEN \$4 AND \$5 AND \(game_date > \$6 OR start_time > \$7\) ORDER BY game_date, start_time LIMIT \$8`).
		WithArgs("open", "full", false, day(2026, 10, 14), day(2026, 10, 16), day(2026, 10, 14), "09:30", defaultBatchSize).
		WillReturnRows(sqlmock.NewRows(gameColumns).
			AddRow("game-1", "user-1", "Friday blitz", day(2026, 10, 15), "19:00", "open", false, "", nil, false, 8).
			AddRow("game-2", "user-1", "Too far", day(2026, 10, 16), "20:00", "open", false, "", nil, false, 8).
			AddRow("game-3", "user-1", "Already started", day(2026, 10, 14), "08:00", "full", false, "", nil, false, 2))

	tj.mock.ExpectQuery(`SELECT "user_id" FROM "game_participants" WHERE game_id = \$1 AND status = \$2`).
		WithArgs("game-1", "confirmed").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("user-2").AddRow("user-1"))
	tj.mock.ExpectQuery(`SELECT \* FROM "notification_preferences" WHERE user_id IN \(\$1,\$2\)`).
		WithArgs("user-1", "user-2").
		WillReturnRows(sqlmock.NewRows(prefColumns).AddRow("p-2", "user-2", true, true, 48))
	// user-2's reminder time has passed; only user-1 gets one.
	tj.mock.ExpectExec(`INSERT INTO "scheduled_notifications" .* ON CONFLICT \("user_id","game_id","notification_type"\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "user-1", "game-1", "reminder", time.Date(2026, 10, 14, 19, 0, 0, 0, time.UTC), false, nil, false, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	tj.mock.ExpectExec(`UPDATE "games" SET "reminder_sent"=\$1,"updated_at"=\$2 WHERE id = \$3 AND reminder_sent = \$4`).
		WithArgs(true, sqlmock.AnyArg(), "game-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tj.ScheduleReminders(context.Background()))
}

func TestScheduleReminders_LatchesUnreadableStartTime(t *testing.T) {
	tj := newTestJobs(t)

	tj.mock.ExpectQuery(`SELECT \* FROM "games" WHERE status IN`).
		WillReturnRows(sqlmock.NewRows(gameColumns).
			AddRow("game-9", "user-1", "Evening blitz", day(2026, 10, 15), "7pm", "open", false, "", nil, false, 8))
	tj.mock.ExpectExec(`UPDATE "games" SET "reminder_sent"=\$1,"updated_at"=\$2 WHERE id = \$3 AND reminder_sent = \$4`).
		WithArgs(true, sqlmock.AnyArg(), "game-9", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tj.ScheduleReminders(context.Background()))
}

func TestCreateRecurringGames(t *testing.T) {
	tj := newTestJobs(t)

	tj.mock.ExpectQuery(`SELECT \* FROM "games" WHERE is_recurring = \$1 AND status IN \(\$2,\$3,\$4\) AND \(recurrence_end_date IS NULL OR recurrence_end_date >= \$5\) ORDER BY "games"."id" LIMIT \$6`).
		WithArgs(true, "open", "full", "completed", day(2026, 10, 14), defaultBatchSize).
		WillReturnRows(sqlmock.NewRows(gameColumns).
			AddRow("tpl-1", "user-1", "Monday rapid", day(2026, 10, 5), "18:30", "completed", true, "weekly", nil, true, 10).
			AddRow("tpl-2", "user-1", "Odd pattern", day(2026, 10, 5), "18:30", "open", true, "daily", nil, false, 10).
			AddRow("tpl-3", "user-1", "Ending soon", day(2026, 10, 8), "18:30", "open", true, "weekly", day(2026, 10, 14), false, 10))
	tj.mock.ExpectExec(`INSERT INTO "games" .* ON CONFLICT \("parent_game_id","game_date"\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, tj.CreateRecurringGames(context.Background()))
}

func TestChildOf(t *testing.T) {
	rating := 1200
	tpl := gameTemplate(&rating)
	child := childOf(tpl, day(2026, 10, 19), fixedNow)

	assert.NotEqual(t, tpl.ID, child.ID)
	assert.Equal(t, tpl.ID, *child.ParentGameID)
	assert.Equal(t, day(2026, 10, 19), child.GameDate)
	assert.Equal(t, types.GameStatusOpen, child.Status)
	assert.False(t, child.IsRecurring)
	assert.False(t, child.ReminderSent)
	assert.Equal(t, tpl.VenueName, child.VenueName)
	assert.Equal(t, tpl.TimeControl, child.TimeControl)
	assert.Equal(t, &rating, child.MinRating)
}

func TestExpireWaitlist(t *testing.T) {
	tj := newTestJobs(t)
	tj.mock.ExpectExec(`UPDATE game_waitlist SET status = \$1, updated_at = \$2\s+WHERE status = \$3 AND game_id IN`).
		WithArgs("expired", fixedNow, "waiting", "cancelled", "completed", day(2026, 10, 14), day(2026, 10, 14), "09:30").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, tj.ExpireWaitlist(context.Background()))
}

func TestAutoCheckoutVenues(t *testing.T) {
	tj := newTestJobs(t)
	tj.mock.ExpectExec(`UPDATE "venue_checkins" SET "auto_checked_out"=\$1,"checked_out_at"=\$2 WHERE checked_out_at IS NULL`).
		WithArgs(true, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, tj.AutoCheckoutVenues(context.Background()))
}

func TestExpireTrials_NotifiesUsers(t *testing.T) {
	tj := newTestJobs(t)
	tj.quota.expired = []quota.ExpiredTrialUser{
		{ID: "user-1", Email: "ana@example.com", Username: "ana"},
		{ID: "user-2", Email: "bo@example.com"},
	}

	require.NoError(t, tj.ExpireTrials(context.Background()))
	require.Len(t, tj.notifier.sent, 2)
	assert.Equal(t, mailer.TemplateTrialEnded, tj.notifier.sent[0].template)
	assert.Equal(t, "bo@example.com", tj.notifier.sent[1].data["Name"])
	assert.Equal(t, "https://knightly.test/pricing", tj.notifier.sent[1].data["Link"])
}

func TestExpireTrials_DeliversBeforeReturning(t *testing.T) {
	tj := newTestJobs(t)
	tj.notifier.fail = true
	tj.quota.expired = []quota.ExpiredTrialUser{{ID: "user-1", Email: "ana@example.com"}}

	require.NoError(t, tj.ExpireTrials(context.Background()))
	require.Len(t, tj.notifier.sent, 1)
	assert.Equal(t, "ana@example.com", tj.notifier.sent[0].to)
}

func TestResetMonthlyQuotas_PropagatesError(t *testing.T) {
	tj := newTestJobs(t)
	tj.quota.err = errors.New("db gone")
	assert.EqualError(t, tj.ResetMonthlyQuotas(context.Background()), "db gone")
}

func TestSnapshotSubscriptions_UsesLocalDate(t *testing.T) {
	tj := newTestJobs(t)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	tj.loc = tokyo
	tj.now = func() time.Time { return time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC) }

	require.NoError(t, tj.SnapshotSubscriptions(context.Background()))
	assert.Equal(t, day(2026, 10, 15), tj.stats.date)
}

var subscriptionColumns = []string{"id", "user_id", "tier", "status", "stripe_subscription_id"}

func TestSyncSubscriptions(t *testing.T) {
	tj := newTestJobs(t)
	tj.provider.subs["sub_1"] = &sb.Subscription{ID: "sub_1", Status: types.SubscriptionStatusActive}
	tj.provider.subs["sub_a"] = &sb.Subscription{ID: "sub_a", Status: types.SubscriptionStatusPastDue, Metadata: sb.Metadata{"author_id": "author-9"}}

	tj.mock.ExpectQuery(`SELECT \* FROM "subscriptions" WHERE stripe_subscription_id <> '' AND status NOT IN \(\$1,\$2\) ORDER BY "subscriptions"."id" LIMIT \$3`).
		WithArgs("canceled", "incomplete_expired", syncBatchSize).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).
			AddRow("s-1", "user-1", "premium", "active", "sub_1").
			AddRow("s-2", "user-2", "premium", "trialing", "sub_gone"))
	tj.mock.ExpectQuery(`SELECT \* FROM "author_subscriptions" WHERE stripe_subscription_id <> '' AND status NOT IN \(\$1,\$2\)`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "subscriber_id", "status", "stripe_subscription_id"}).
			AddRow("a-1", "author-9", "user-3", "active", "sub_a"))

	err := tj.SyncSubscriptions(context.Background())
	require.Error(t, err, "one subscription could not be fetched")
	assert.Contains(t, err.Error(), "1 subscriptions failed")

	require.Len(t, tj.applier.calls, 2)
	platform := tj.applier.calls[0]
	assert.Equal(t, types.SubscriptionKindPlatform, platform.kind)
	assert.Equal(t, "user-1", platform.sub.Metadata[sb.MetaUserID])

	author := tj.applier.calls[1]
	assert.Equal(t, types.SubscriptionKindAuthor, author.kind)
	assert.Equal(t, "author-9", author.sub.Metadata[sb.MetaAuthorID])
	assert.Equal(t, "user-3", author.sub.Metadata.SubscriberID())
}

func TestSyncSubscriptions_StripeNotConfigured(t *testing.T) {
	tj := newTestJobs(t)
	tj.provider.err = sb.ErrNotConfigured

	tj.mock.ExpectQuery(`SELECT \* FROM "subscriptions"`).
		WillReturnRows(sqlmock.NewRows(subscriptionColumns).AddRow("s-1", "user-1", "premium", "active", "sub_1"))

	require.NoError(t, tj.SyncSubscriptions(context.Background()))
	assert.Empty(t, tj.applier.calls)
}

func TestJobsRegister(t *testing.T) {
	tj := newTestJobs(t)
	s := New(&config.Config{}, testutil.NopLogger(), nil)
	require.NoError(t, tj.Register(s))

	var got []string
	for _, st := range s.Jobs() {
		got = append(got, st.Name)
	}
	assert.Equal(t, []string{
		JobDispatchNotifications, JobCreateRecurringGames, JobScheduleReminders, JobExpireWaitlist,
		JobResetMonthlyQuotas, JobExpireTrials, JobSyncSubscriptions, JobAutoCheckoutVenues, JobSnapshotSubscriptions,
	}, got)
}

func gameTemplate(minRating *int) *models.Game {
	return &models.Game{
		ID:                "tpl-1",
		CreatorID:         "user-1",
		Title:             "Monday rapid",
		VenueName:         "Café Rook",
		City:              "Lyon",
		GameDate:          day(2026, 10, 5),
		StartTime:         "18:30",
		TimeControl:       "15+10",
		MinRating:         minRating,
		MaxPlayers:        10,
		Status:            types.GameStatusCompleted,
		IsRecurring:       true,
		RecurrencePattern: types.RecurrenceWeekly,
		ReminderSent:      true,
	}
}
