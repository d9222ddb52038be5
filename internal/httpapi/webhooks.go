package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"callbilling/internal/payments"
	"callbilling/internal/telephony"
	"callbilling/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	twimlContentType  = "text/xml; charset=utf-8"
	maxStripePayload  = 64 << 10
	stripeSignatureHd = "Stripe-Signature"
)

type EventHandler interface {
	Handle(ctx context.Context, ev telephony.Event) telephony.ControlResponse
}

// TwilioWebhooks serves the voice, status and recording callbacks. Business
// failures never change the status code: the provider always gets 200 and a
// control document.
type TwilioWebhooks struct {
	Reconciler EventHandler
	Now        func() time.Time
}

func (h TwilioWebhooks) Voice(c *gin.Context)     { h.handle(c, telephony.EventVoice) }
func (h TwilioWebhooks) Status(c *gin.Context)    { h.handle(c, telephony.EventStatus) }
func (h TwilioWebhooks) Recording(c *gin.Context) { h.handle(c, telephony.EventRecording) }

func (h TwilioWebhooks) handle(c *gin.Context, kind telephony.EventKind) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	log := logger.FromGin(c)

	ev, err := telephony.ParseTwilioCallback(c.Request, kind, now())
	if err != nil {
		log.Warn("invalid twilio callback", "kind", string(kind), "err", err)
		c.Data(http.StatusBadRequest, twimlContentType, []byte(telephony.HangupTwiML))
		return
	}

	res := h.Reconciler.Handle(c.Request.Context(), ev)
	body, err := telephony.Render(res)
	if err != nil {
		log.Error("render control response failed", "err", err)
		body = telephony.HangupTwiML
	}
	c.Data(http.StatusOK, twimlContentType, []byte(body))
}

type StripeHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) (payments.Outcome, error)
}

// StripeWebhook answers 400 for unverifiable deliveries and 500 for
// processing failures so Stripe retries them.
func StripeWebhook(h StripeHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxStripePayload))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
			return
		}

		out, err := h.Handle(c.Request.Context(), payload, c.GetHeader(stripeSignatureHd))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"received": true, "outcome": out})
		case errors.Is(err, payments.ErrInvalidSignature), errors.Is(err, payments.ErrInvalidPayload):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			logger.FromGin(c).Error("stripe webhook failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		}
	}
}
