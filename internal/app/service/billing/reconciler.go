package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/knightly/internal/app/service/notify"
	"github.com/fatflowers/knightly/internal/models"
	sb "github.com/fatflowers/knightly/internal/platform/stripe/stripe_billing"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/metrics"
	"github.com/fatflowers/knightly/pkg/types"
)

var (
	// ErrMissingUserID marks an event whose metadata does not name the local user.
	ErrMissingUserID = errors.New("billing event has no user_id metadata")
	ErrUnknownUser   = errors.New("billing event references an unknown user")
	// ErrSubscriptionNotFound is returned for invoices that arrive before their
	// subscription; the provider retries the delivery later.
	ErrSubscriptionNotFound = errors.New("local subscription not found")

	errSuperseded = errors.New("subscription superseded by a newer one")
)

// staleClaimAfter lets a delivery re-claim an event whose previous attempt
// never finished, e.g. after a crash.
const staleClaimAfter = 10 * time.Minute

// Notifier is the fire-and-forget email side of the reconciler.
type Notifier interface {
	SendAsync(ctx context.Context, to, template string, data map[string]any)
	Link(path string) string
}

// Reconciler applies billing provider events to local state.
type Reconciler struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	notifier Notifier
	metrics  *metrics.Recorder
	now      func() time.Time
}

func NewReconciler(db *gorm.DB, n *notify.Service, log *zap.SugaredLogger, rec *metrics.Recorder) *Reconciler {
	return New(db, n, log, rec)
}

func New(db *gorm.DB, n Notifier, log *zap.SugaredLogger, rec *metrics.Recorder) *Reconciler {
	return &Reconciler{db: db, log: log, notifier: n, metrics: rec, now: time.Now}
}

// mail is a notification sent after the event's transaction commits.
type mail struct {
	to       string
	template string
	data     map[string]any
}

// outcome is stored as the billing event's result.
type outcome struct {
	Result string                 `json:"result"`
	Reason string                 `json:"reason,omitempty"`
	Kind   types.SubscriptionKind `json:"kind,omitempty"`
	UserID string                 `json:"user_id,omitempty"`
	Status string                 `json:"status,omitempty"`

	mails []mail
}

func handled(kind types.SubscriptionKind, userID, status string) *outcome {
	return &outcome{Result: string(models.BillingEventStatusHandled), Kind: kind, UserID: userID, Status: status}
}

func ignored(reason string) *outcome {
	return &outcome{Result: string(models.BillingEventStatusIgnored), Reason: reason}
}

func (o *outcome) withMail(to, template string, data map[string]any) *outcome {
	if to != "" {
		o.mails = append(o.mails, mail{to: to, template: template, data: data})
	}
	return o
}

// dropped reports whether err is a data inconsistency that retrying cannot fix.
func dropped(err error) bool {
	return errors.Is(err, ErrMissingUserID) || errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, errSuperseded) || errors.Is(err, errUnknownPayment)
}

// HandleEvent claims event in the dedup ledger, applies it and records the
// outcome. A duplicate delivery returns nil without side effects. A returned
// error means nothing was committed and the provider should redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.ID == "" {
		return errors.New("billing event without id")
	}
	ctx, log := logctx.With(ctx, r.log, "event_id", event.ID, "event_type", event.Type)
	eventType := string(event.Type)

	claimed, err := r.claim(ctx, event)
	if err != nil {
		r.metrics.BillingEvent(eventType, "error")
		return err
	}
	if !claimed {
		log.Infow("duplicate billing event skipped")
		r.metrics.BillingEvent(eventType, "duplicate")
		return nil
	}

	out, err := r.route(ctx, event)
	if err != nil && dropped(err) {
		log.Warnw("billing event dropped", "err", err)
		out, err = ignored(err.Error()), nil
	}
	if err != nil {
		log.Errorw("billing event handle failed", "err", err)
		r.finish(ctx, event.ID, models.BillingEventStatusHandleFailed, map[string]any{"error": err.Error()})
		r.metrics.BillingEvent(eventType, "error")
		return fmt.Errorf("failed to handle %s: %w", event.Type, err)
	}

	r.finish(ctx, event.ID, models.BillingEventStatus(out.Result), out)
	r.metrics.BillingEvent(eventType, out.Result)
	log.Infow("billing event processed", "result", out.Result, "reason", out.Reason, "user_id", out.UserID)

	for _, m := range out.mails {
		r.notifier.SendAsync(ctx, m.to, m.template, m.data)
	}
	return nil
}

const claimEventSQL = `INSERT INTO billing_events (id, type, status, attempts, trace_id, livemode, event_created_at, data, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, attempts = billing_events.attempts + 1, updated_at = EXCLUDED.updated_at
WHERE billing_events.status = ? OR (billing_events.status = ? AND billing_events.updated_at < ?)`

// claim inserts the event row, or re-claims one whose last attempt failed.
func (r *Reconciler) claim(ctx context.Context, event *stripe.Event) (bool, error) {
	now := r.now()
	res := r.db.WithContext(ctx).Exec(claimEventSQL,
		event.ID, string(event.Type), models.BillingEventStatusReceived,
		logctx.TraceID(ctx), event.Livemode, time.Unix(event.Created, 0).UTC(), datatypes.JSON(eventObject(event)),
		now, now,
		models.BillingEventStatusHandleFailed, models.BillingEventStatusReceived, now.Add(-staleClaimAfter),
	)
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim billing event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// finish records the final status. A failure here is logged only: the
// event's effects are already committed or rolled back.
func (r *Reconciler) finish(ctx context.Context, eventID string, status models.BillingEventStatus, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte(`{}`)
	}
	err = r.db.WithContext(ctx).Model(&models.BillingEvent{}).Where("id = ?", eventID).
		Updates(map[string]any{"status": status, "result": datatypes.JSON(raw)}).Error
	if err != nil {
		logctx.FromCtx(ctx, r.log).Errorw("failed to finish billing event", "status", status, "err", err)
	}
}

func eventObject(event *stripe.Event) json.RawMessage {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return event.Data.Raw
}

func (r *Reconciler) route(ctx context.Context, event *stripe.Event) (*outcome, error) {
	raw := eventObject(event)
	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated:
		return r.onSubscription(ctx, event.ID, raw, types.SubscriptionChangeReasonCreated)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return r.onSubscription(ctx, event.ID, raw, types.SubscriptionChangeReasonUpdated)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return r.onSubscription(ctx, event.ID, raw, types.SubscriptionChangeReasonDeleted)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return r.onInvoice(ctx, event.ID, raw, true)
	case stripe.EventTypeInvoicePaymentFailed:
		return r.onInvoice(ctx, event.ID, raw, false)
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return r.onCheckoutPaid(ctx, event.Type, raw)
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return r.onCheckoutFailed(ctx, event.Type, raw)
	case stripe.EventTypeChargeRefunded:
		return r.onChargeRefunded(ctx, raw)
	default:
		return ignored("unhandled event type"), nil
	}
}

// onSubscription routes a subscription lifecycle event by its explicit
// discriminator. Exactly one reconciler sees each event.
func (r *Reconciler) onSubscription(ctx context.Context, eventID string, raw json.RawMessage, reason types.SubscriptionChangeReason) (*outcome, error) {
	sub, err := sb.Decode[sb.Subscription](raw)
	if err != nil {
		return ignored(err.Error()), nil
	}
	switch sub.Metadata.Kind() {
	case types.SubscriptionKindAuthor:
		return r.applyAuthorSubscription(ctx, sub, reason == types.SubscriptionChangeReasonDeleted)
	case types.SubscriptionKindPlatform:
		return r.applyPlatformSubscription(ctx, eventID, sub, reason)
	default:
		return nil, fmt.Errorf("subscription %s: %w", sub.ID, ErrMissingUserID)
	}
}

func (r *Reconciler) onInvoice(ctx context.Context, eventID string, raw json.RawMessage, paid bool) (*outcome, error) {
	inv, err := sb.Decode[sb.Invoice](raw)
	if err != nil {
		return ignored(err.Error()), nil
	}
	if inv.SubscriptionID() == "" {
		return ignored("invoice not attached to a subscription"), nil
	}
	kind, err := r.invoiceKind(ctx, inv)
	if err != nil {
		return nil, err
	}
	switch kind {
	case types.SubscriptionKindAuthor:
		if paid {
			return r.authorInvoicePaid(ctx, inv)
		}
		return r.authorInvoiceFailed(ctx, inv)
	case types.SubscriptionKindPlatform:
		if paid {
			return r.platformInvoicePaid(ctx, eventID, inv)
		}
		return r.platformInvoiceFailed(ctx, eventID, inv)
	default:
		return nil, fmt.Errorf("invoice %s: %w", inv.ID, ErrMissingUserID)
	}
}

// invoiceKind reads the discriminator from the invoice metadata and, when it
// has none, from whichever local table holds the subscription id. Author ids
// found locally are copied onto the invoice. Returns "" when nothing matches.
func (r *Reconciler) invoiceKind(ctx context.Context, inv *sb.Invoice) (types.SubscriptionKind, error) {
	if kind := inv.Metadata().Kind(); kind != "" {
		return kind, nil
	}
	db := r.db.WithContext(ctx)
	subID := inv.SubscriptionID()

	var author models.AuthorSubscription
	err := db.Select("author_id", "subscriber_id").Where("stripe_subscription_id = ?", subID).Take(&author).Error
	if err == nil {
		inv.UseLocalMetadata(sb.Metadata{
			sb.MetaKind:         string(types.SubscriptionKindAuthor),
			sb.MetaAuthorID:     author.AuthorID,
			sb.MetaSubscriberID: author.SubscriberID,
		})
		return types.SubscriptionKindAuthor, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to look up author subscription %s: %w", subID, err)
	}

	var n int64
	if err := db.Model(&models.Subscription{}).Where("stripe_subscription_id = ?", subID).Count(&n).Error; err != nil {
		return "", fmt.Errorf("failed to look up subscription %s: %w", subID, err)
	}
	if n > 0 {
		return types.SubscriptionKindPlatform, nil
	}
	return "", nil
}

// ApplySubscriptionSnapshot reconciles authoritative provider state fetched
// outside a webhook. It sends no notifications.
func (r *Reconciler) ApplySubscriptionSnapshot(ctx context.Context, kind types.SubscriptionKind, sub *sb.Subscription) error {
	var (
		out *outcome
		err error
	)
	if kind == types.SubscriptionKindAuthor {
		out, err = r.applyAuthorSubscription(ctx, sub, false)
	} else {
		out, err = r.applyPlatformSubscription(ctx, "", sub, types.SubscriptionChangeReasonSync)
	}
	if err != nil && dropped(err) {
		logctx.FromCtx(ctx, r.log).Warnw("subscription snapshot skipped", "stripe_subscription_id", sub.ID, "err", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply snapshot of %s: %w", sub.ID, err)
	}
	if out.Result == string(models.BillingEventStatusIgnored) {
		logctx.FromCtx(ctx, r.log).Infow("subscription snapshot ignored", "stripe_subscription_id", sub.ID, "reason", out.Reason)
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(NewReconciler),
)
