package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/internal/identity"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	"github.com/postloom/postloom/internal/purchase/domain"
	"github.com/postloom/postloom/internal/purchase/stripegateway"
	"github.com/postloom/postloom/pkg/db/pagination"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type gatewayStub struct {
	sessionID string
	sigErr    error
	created   []stripegateway.SessionRequest
}

func (g *gatewayStub) CreateSession(ctx context.Context, req stripegateway.SessionRequest) (stripegateway.Session, error) {
	g.created = append(g.created, req)
	return stripegateway.Session{ID: g.sessionID, URL: "https://checkout.stripe.com/pay/" + g.sessionID}, nil
}

func (g *gatewayStub) ConstructEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if g.sigErr != nil {
		return stripe.Event{}, g.sigErr
	}
	var event stripe.Event
	event.Type = "checkout.session.completed"
	event.Data = &stripe.EventData{Raw: payload}
	return event, nil
}

type creditsSpy struct {
	addErr error
	adds   []creditsdomain.AddRequest
}

func (c *creditsSpy) GetOrCreateBalance(ctx context.Context, accountID snowflake.ID) (*creditsdomain.Balance, error) {
	return &creditsdomain.Balance{AccountID: accountID}, nil
}
func (c *creditsSpy) Deduct(ctx context.Context, req creditsdomain.DeductRequest) (*creditsdomain.Balance, error) {
	return nil, creditsdomain.ErrInsufficientBalance
}
func (c *creditsSpy) Add(ctx context.Context, req creditsdomain.AddRequest) (*creditsdomain.Balance, error) {
	if c.addErr != nil {
		return nil, c.addErr
	}
	c.adds = append(c.adds, req)
	return &creditsdomain.Balance{AccountID: req.AccountID, RemainingAmount: req.Amount}, nil
}
func (c *creditsSpy) Refund(ctx context.Context, accountID snowflake.ID, amount int64, meta datatypes.JSONMap) (*creditsdomain.Balance, error) {
	return nil, nil
}
func (c *creditsSpy) DeductBonus(ctx context.Context, accountID snowflake.ID, amount int64, action creditsdomain.Action) (*creditsdomain.Balance, error) {
	return nil, nil
}
func (c *creditsSpy) History(ctx context.Context, accountID snowflake.ID, page pagination.Pagination) (creditsdomain.HistoryResponse, error) {
	return creditsdomain.HistoryResponse{}, nil
}

type notifySpy struct {
	kinds []notificationdomain.Kind
}

func (n *notifySpy) Notify(ctx context.Context, accountID snowflake.ID, kind notificationdomain.Kind, title, body string) {
	n.kinds = append(n.kinds, kind)
}
func (n *notifySpy) List(ctx context.Context, page pagination.Pagination) (notificationdomain.ListResponse, error) {
	return notificationdomain.ListResponse{}, nil
}
func (n *notifySpy) MarkRead(ctx context.Context, id snowflake.ID) error { return nil }
func (n *notifySpy) MarkAllRead(ctx context.Context) error               { return nil }

type purchaseFixture struct {
	svc      domain.Service
	conn     *gorm.DB
	gateway  *gatewayStub
	credits  *creditsSpy
	notifier *notifySpy
}

func setupPurchaseService(t *testing.T) *purchaseFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := conn.AutoMigrate(&domain.Purchase{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	f := &purchaseFixture{
		conn:     conn,
		gateway:  &gatewayStub{sessionID: "cs_test_1"},
		credits:  &creditsSpy{},
		notifier: &notifySpy{},
	}
	f.svc = New(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)),
		Gateway:  f.gateway,
		Credits:  f.credits,
		Notifier: f.notifier,
	})
	return f
}

func completedPayload(accountID snowflake.ID, pack, sessionID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"metadata":{"account_id":%q,"pack":%q}}`,
		sessionID, accountID.String(), pack))
}

func TestCreateCheckout(t *testing.T) {
	f := setupPurchaseService(t)
	ctx := identity.WithAccountID(context.Background(), 42)

	if _, err := f.svc.CreateCheckout(ctx, "no-such-pack"); !errors.Is(err, domain.ErrUnknownPack) {
		t.Fatalf("expected unknown pack, got %v", err)
	}

	resp, err := f.svc.CreateCheckout(ctx, "starter")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if resp.SessionID != "cs_test_1" || resp.URL == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(f.gateway.created) != 1 || f.gateway.created[0].AccountID != "42" {
		t.Fatalf("unexpected gateway calls: %+v", f.gateway.created)
	}

	var purchase domain.Purchase
	if err := f.conn.Where("provider_session_id = ?", "cs_test_1").First(&purchase).Error; err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	if purchase.Status != domain.PurchaseStatusPending || purchase.Credits != 100 {
		t.Fatalf("unexpected purchase: %+v", purchase)
	}
}

func TestWebhookGrantsOnce(t *testing.T) {
	f := setupPurchaseService(t)
	ctx := identity.WithAccountID(context.Background(), 42)

	if _, err := f.svc.CreateCheckout(ctx, "creator"); err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	payload := completedPayload(42, "creator", "cs_test_1")
	for i := 0; i < 3; i++ {
		if err := f.svc.HandleWebhook(context.Background(), payload, "sig"); err != nil {
			t.Fatalf("handle webhook #%d: %v", i, err)
		}
	}

	if len(f.credits.adds) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(f.credits.adds))
	}
	add := f.credits.adds[0]
	if add.AccountID != 42 || add.Amount != 500 || add.Action != creditsdomain.ActionPurchase {
		t.Fatalf("unexpected grant: %+v", add)
	}
	if add.Metadata["session_id"] != "cs_test_1" {
		t.Fatalf("grant missing session metadata: %+v", add.Metadata)
	}
	if len(f.notifier.kinds) != 1 || f.notifier.kinds[0] != notificationdomain.KindCreditsPurchased {
		t.Fatalf("unexpected notifications: %v", f.notifier.kinds)
	}

	var purchase domain.Purchase
	if err := f.conn.Where("provider_session_id = ?", "cs_test_1").First(&purchase).Error; err != nil {
		t.Fatalf("load purchase: %v", err)
	}
	if purchase.Status != domain.PurchaseStatusCompleted || purchase.CompletedAt == nil {
		t.Fatalf("purchase not completed: %+v", purchase)
	}
}

func TestWebhookWithoutPendingRowStillGrants(t *testing.T) {
	f := setupPurchaseService(t)

	payload := completedPayload(77, "starter", "cs_orphan")
	if err := f.svc.HandleWebhook(context.Background(), payload, "sig"); err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if err := f.svc.HandleWebhook(context.Background(), payload, "sig"); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if len(f.credits.adds) != 1 {
		t.Fatalf("expected exactly one grant, got %d", len(f.credits.adds))
	}

	var count int64
	if err := f.conn.Model(&domain.Purchase{}).Where("provider_session_id = ?", "cs_orphan").Count(&count).Error; err != nil {
		t.Fatalf("count purchases: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one purchase row, got %d", count)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	f := setupPurchaseService(t)
	f.gateway.sigErr = errors.New("signature mismatch")

	err := f.svc.HandleWebhook(context.Background(), []byte(`{}`), "bad")
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if len(f.credits.adds) != 0 {
		t.Fatalf("grant on bad signature")
	}
}

func TestWebhookGrantFailureLeavesRetryable(t *testing.T) {
	f := setupPurchaseService(t)
	ctx := identity.WithAccountID(context.Background(), 42)

	if _, err := f.svc.CreateCheckout(ctx, "starter"); err != nil {
		t.Fatalf("create checkout: %v", err)
	}

	payload := completedPayload(42, "starter", "cs_test_1")

	f.credits.addErr = creditsdomain.ErrLedgerUnavailable
	if err := f.svc.HandleWebhook(context.Background(), payload, "sig"); !errors.Is(err, creditsdomain.ErrLedgerUnavailable) {
		t.Fatalf("expected grant failure surfaced, got %v", err)
	}

	f.credits.addErr = nil
	if err := f.svc.HandleWebhook(context.Background(), payload, "sig"); err != nil {
		t.Fatalf("retry delivery: %v", err)
	}
	if len(f.credits.adds) != 1 {
		t.Fatalf("expected grant on retry, got %d", len(f.credits.adds))
	}
}
