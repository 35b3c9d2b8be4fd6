package stripe_webhook

import (
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/knightly/pkg/config"
)

const testSecret = "whsec_test"

func sign(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret, Timestamp: at})
	return signed.Header
}

func TestVerifierParse(t *testing.T) {
	v := NewVerifier(&config.Config{Stripe: config.StripeConfig{WebhookSecret: testSecret}})
	payload := []byte(`{"id":"evt_1","object":"event","type":"invoice.payment_failed","api_version":"2020-08-27","data":{"object":{"id":"in_1"}}}`)

	event, err := v.Parse(payload, sign(t, payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "invoice.payment_failed", string(event.Type))
	assert.JSONEq(t, `{"id":"in_1"}`, string(event.Data.Raw))

	_, err = v.Parse(payload, sign(t, payload, "whsec_other", time.Now()))
	assert.Error(t, err)

	_, err = v.Parse(payload, sign(t, payload, testSecret, time.Now().Add(-time.Hour)))
	assert.Error(t, err)
}

func TestVerifierWithoutSecret(t *testing.T) {
	v := NewVerifier(&config.Config{})
	_, err := v.Parse([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrNoSecret)
}
