package domain

import (
	"context"
	"errors"
)

type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type Service interface {
	// ListPacks returns the purchasable credit packs.
	ListPacks() []Pack

	// CreateCheckout opens a Stripe checkout session for the pack and
	// records a pending purchase keyed by the session id.
	CreateCheckout(ctx context.Context, packCode string) (CheckoutResponse, error)

	// HandleWebhook verifies and processes a Stripe webhook delivery.
	// checkout.session.completed grants the pack's credits exactly once.
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error
}

var (
	ErrUnknownPack      = errors.New("unknown_pack")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrCheckoutFailed   = errors.New("checkout_failed")
	ErrInvalidSignature = errors.New("invalid_signature")
)
