package stripe_billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/fx"

	"github.com/fatflowers/knightly/pkg/config"
)

var ErrNotConfigured = errors.New("stripe: secret key not configured")

// Provider reads authoritative subscription state from the billing provider.
type Provider interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

type Client struct {
	configured bool
}

// NewClient sets the package-level stripe key used by stripe-go's resource clients.
func NewClient(cfg *config.Config) *Client {
	if cfg.Stripe.SecretKey != "" {
		stripe.Key = cfg.Stripe.SecretKey
	}
	return &Client{configured: cfg.Stripe.SecretKey != ""}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := stripesubscription.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", id, err)
	}
	return FromStripe(sub)
}

// FromStripe converts a stripe-go subscription into the reconciler's view by
// round-tripping through JSON, so both API shapes go through one decoder.
func FromStripe(sub *stripe.Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, errors.New("nil subscription")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode subscription: %w", err)
	}
	return Decode[Subscription](raw)
}

var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewClient, fx.As(new(Provider))),
	),
)
