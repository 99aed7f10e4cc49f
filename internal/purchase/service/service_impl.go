package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/internal/identity"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	"github.com/postloom/postloom/internal/purchase/domain"
	"github.com/postloom/postloom/internal/purchase/stripegateway"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Gateway is the Stripe surface the service depends on.
type Gateway interface {
	CreateSession(ctx context.Context, req stripegateway.SessionRequest) (stripegateway.Session, error)
	ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Gateway  Gateway
	Credits  creditsdomain.Service
	Notifier notificationdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	gateway  Gateway
	credits  creditsdomain.Service
	notifier notificationdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("purchase.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		gateway:  p.Gateway,
		credits:  p.Credits,
		notifier: p.Notifier,
	}
}

func (s *Service) ListPacks() []domain.Pack {
	return domain.Packs()
}

func (s *Service) CreateCheckout(ctx context.Context, packCode string) (domain.CheckoutResponse, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.CheckoutResponse{}, domain.ErrInvalidAccount
	}

	pack, ok := domain.PackByCode(strings.TrimSpace(packCode))
	if !ok {
		return domain.CheckoutResponse{}, domain.ErrUnknownPack
	}

	sess, err := s.gateway.CreateSession(ctx, stripegateway.SessionRequest{
		Pack:      pack,
		AccountID: accountID.String(),
	})
	if err != nil {
		s.log.Error("checkout session failed",
			zap.String("pack", pack.Code),
			zap.Error(err))
		return domain.CheckoutResponse{}, fmt.Errorf("%w: %v", domain.ErrCheckoutFailed, err)
	}

	purchase := &domain.Purchase{
		ID:                s.genID.Generate(),
		AccountID:         accountID,
		PackCode:          pack.Code,
		Credits:           pack.Credits,
		AmountCents:       pack.AmountCents,
		Currency:          pack.Currency,
		ProviderSessionID: sess.ID,
		Status:            domain.PurchaseStatusPending,
		CreatedAt:         s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(purchase).Error; err != nil {
		return domain.CheckoutResponse{}, err
	}

	return domain.CheckoutResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := s.gateway.ConstructEvent(payload, sigHeader)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	return s.completeCheckout(ctx, &sess)
}

func (s *Service) completeCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	accountID, err := snowflake.ParseString(sess.Metadata["account_id"])
	if err != nil || accountID == 0 {
		s.log.Warn("checkout completed without account metadata",
			zap.String("session_id", sess.ID))
		return nil
	}
	pack, ok := domain.PackByCode(sess.Metadata["pack"])
	if !ok {
		s.log.Warn("checkout completed for unknown pack",
			zap.String("session_id", sess.ID),
			zap.String("pack", sess.Metadata["pack"]))
		return nil
	}

	claimed, err := s.claimPurchase(ctx, accountID, pack, sess.ID)
	if err != nil {
		return err
	}
	if !claimed {
		// Redelivered event; the grant already happened.
		return nil
	}

	if _, err := s.credits.Add(ctx, creditsdomain.AddRequest{
		AccountID: accountID,
		Amount:    pack.Credits,
		Action:    creditsdomain.ActionPurchase,
		Metadata: datatypes.JSONMap{
			"session_id": sess.ID,
			"pack":       pack.Code,
		},
	}); err != nil {
		// Put the purchase back so the Stripe retry can grant.
		s.releasePurchase(ctx, sess.ID)
		return err
	}

	s.notifier.Notify(ctx, accountID, notificationdomain.KindCreditsPurchased,
		"Credits added",
		fmt.Sprintf("%d credits from the %s are now available.", pack.Credits, pack.Name))
	return nil
}

// claimPurchase flips the purchase row to completed exactly once. A
// completion for a session with no pending row (checkout created outside
// this instance) inserts the completed row directly; the unique session
// index still collapses duplicate deliveries.
func (s *Service) claimPurchase(ctx context.Context, accountID snowflake.ID, pack domain.Pack, sessionID string) (bool, error) {
	now := s.clock.Now().UTC()

	tx := s.db.WithContext(ctx).Exec(
		`UPDATE credit_purchases
		 SET status = ?, completed_at = ?
		 WHERE provider_session_id = ? AND status = ?`,
		domain.PurchaseStatusCompleted, now, sessionID, domain.PurchaseStatusPending)
	if tx.Error != nil {
		return false, tx.Error
	}
	if tx.RowsAffected > 0 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&domain.Purchase{}).
		Where("provider_session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	insert := s.db.WithContext(ctx).Exec(
		`INSERT INTO credit_purchases
		 (id, account_id, pack_code, credits, amount_cents, currency, provider_session_id, status, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider_session_id) DO NOTHING`,
		s.genID.Generate(), accountID, pack.Code, pack.Credits, pack.AmountCents,
		pack.Currency, sessionID, domain.PurchaseStatusCompleted, now, now)
	if insert.Error != nil {
		return false, insert.Error
	}
	return insert.RowsAffected > 0, nil
}

func (s *Service) releasePurchase(ctx context.Context, sessionID string) {
	err := s.db.WithContext(ctx).Exec(
		`UPDATE credit_purchases
		 SET status = ?, completed_at = NULL
		 WHERE provider_session_id = ?`,
		domain.PurchaseStatusPending, sessionID).Error
	if err != nil {
		s.log.Error("release purchase failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
