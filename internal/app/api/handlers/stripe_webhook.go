package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"

	"github.com/fatflowers/knightly/internal/platform/stripe/stripe_webhook"
	"github.com/fatflowers/knightly/pkg/logctx"
	"github.com/fatflowers/knightly/pkg/response"
)

// maxWebhookBody caps the raw event body. Invoices with many line items run
// well past 64 KiB.
const maxWebhookBody = 512 << 10

// EventHandler reconciles one verified billing event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

// @Summary      Stripe Webhook
// @Description  Receives Stripe events. The body must be the raw payload signed in the Stripe-Signature header. A non-2xx answer makes Stripe redeliver.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Stripe signature"
// @Success      200  {object}  handlers.RespOK
// @Failure      400  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /api/v2/payment/webhook/stripe [post]
func ApiStripeWebhook(v *stripe_webhook.Verifier, h EventHandler, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, base)
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
		if err != nil {
			log.Warnw("webhook_stripe_read_error", "err", err)
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		event, err := v.Parse(payload, c.GetHeader(stripe_webhook.SignatureHeader))
		if err != nil {
			log.Warnw("webhook_stripe_rejected", "err", err)
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}

		log.Infow("webhook_stripe_received", "event_id", event.ID, "event_type", event.Type)
		if err := h.HandleEvent(c.Request.Context(), event); err != nil {
			log.Errorw("webhook_stripe_handle_error", "event_id", event.ID, "err", err)
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT[any](nil))
	}
}

func RegisterPaymentWebhookRoutes(r gin.IRouter, v *stripe_webhook.Verifier, h EventHandler, log *zap.SugaredLogger) {
	r.POST("/webhook/stripe", ApiStripeWebhook(v, h, log))
}
