package stripe_webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"

	"github.com/fatflowers/knightly/pkg/config"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

var ErrNoSecret = errors.New("stripe webhook secret not configured")

// Verifier checks webhook signatures and parses the event envelope.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(cfg *config.Config) *Verifier {
	return &Verifier{secret: cfg.Stripe.WebhookSecret, tolerance: webhook.DefaultTolerance}
}

// Parse verifies the signature header against payload and returns the event.
// The event's API version is not checked: payload decoding accepts both the
// legacy and the current object shapes.
func (v *Verifier) Parse(payload []byte, sigHeader string) (*stripe.Event, error) {
	if v.secret == "" {
		return nil, ErrNoSecret
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify stripe webhook: %w", err)
	}
	if event.ID == "" || event.Data == nil {
		return nil, errors.New("stripe webhook: event without id or data")
	}
	return &event, nil
}

var Module = fx.Options(
	fx.Provide(NewVerifier),
)
