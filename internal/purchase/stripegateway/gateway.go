package stripegateway

import (
	"context"
	"fmt"

	"github.com/postloom/postloom/internal/config"
	"github.com/postloom/postloom/internal/purchase/domain"
	stripe "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Gateway wraps the Stripe SDK surface the purchase service needs.
type Gateway struct {
	cfg config.StripeConfig
}

func New(cfg config.Config) *Gateway {
	stripe.Key = cfg.Stripe.SecretKey
	return &Gateway{cfg: cfg.Stripe}
}

type SessionRequest struct {
	Pack      domain.Pack
	AccountID string
}

type Session struct {
	ID  string
	URL string
}

func (g *Gateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Pack.Currency),
					UnitAmount: stripe.Int64(req.Pack.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Pack.Name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.cfg.SuccessURL),
		CancelURL:  stripe.String(g.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("account_id", req.AccountID)
	params.AddMetadata("pack", req.Pack.Code)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("create checkout session: %w", err)
	}
	return Session{ID: sess.ID, URL: sess.URL}, nil
}

// ConstructEvent verifies the Stripe-Signature header and parses the event.
func (g *Gateway) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, g.cfg.WebhookSecret)
}
