package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/postloom/postloom/internal/webhook"
)

// VerifyInstagramWebhook answers the Graph API subscription handshake by
// echoing the challenge when the verify token matches.
func (s *Server) VerifyInstagramWebhook(c *gin.Context) {
	challenge, err := s.webhookSvc.VerifySubscription(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.String(http.StatusOK, challenge)
}

// HandleInstagramWebhook verifies the payload signature against the app
// secret, then dispatches auto-replies. Processing failures inside the
// event never surface here; the platform retries the whole delivery.
func (s *Server) HandleInstagramWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sig := c.GetHeader("X-Hub-Signature-256")
	if err := webhook.VerifySignature(payload, sig, s.cfg.Instagram.AppSecret); err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.webhookSvc.HandleEvent(c.Request.Context(), payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleStripeWebhook passes the raw body and signature header through to
// the purchase service. Stripe retries on anything but a 2xx.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.purchaseSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
