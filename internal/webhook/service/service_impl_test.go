package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/config"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	"github.com/postloom/postloom/internal/identity"
	"github.com/postloom/postloom/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type connectionsStub struct {
	conns map[string]*connectiondomain.Connection
}

func (c *connectionsStub) ByExternalAccountID(ctx context.Context, platform connectiondomain.Platform, externalID string) (*connectiondomain.Connection, error) {
	conn, ok := c.conns[externalID]
	if !ok {
		return nil, connectiondomain.ErrNoActiveConnection
	}
	return conn, nil
}

func (c *connectionsStub) BeginOAuth(context.Context, connectiondomain.Platform) (connectiondomain.BeginOAuthResponse, error) {
	return connectiondomain.BeginOAuthResponse{}, nil
}
func (c *connectionsStub) CompleteOAuth(context.Context, connectiondomain.CompleteOAuthRequest) (*connectiondomain.Connection, error) {
	return nil, nil
}
func (c *connectionsStub) List(context.Context) ([]*connectiondomain.Connection, error) {
	return nil, nil
}
func (c *connectionsStub) Disconnect(context.Context, snowflake.ID) error { return nil }
func (c *connectionsStub) ActiveForAccount(context.Context, snowflake.ID, connectiondomain.Platform) (*connectiondomain.Connection, error) {
	return nil, connectiondomain.ErrNoActiveConnection
}
func (c *connectionsStub) ExpireConnections(context.Context, time.Time) ([]*connectiondomain.Connection, error) {
	return nil, nil
}

type replierSpy struct {
	dms     []string
	replies []string
	err     error
}

func (r *replierSpy) SendDM(ctx context.Context, conn *connectiondomain.Connection, recipientID, text string) error {
	if r.err != nil {
		return r.err
	}
	r.dms = append(r.dms, recipientID+":"+text)
	return nil
}

func (r *replierSpy) ReplyToComment(ctx context.Context, conn *connectiondomain.Connection, commentID, text string) error {
	if r.err != nil {
		return r.err
	}
	r.replies = append(r.replies, commentID+":"+text)
	return nil
}

func setupWebhookService(t *testing.T) (domain.Service, *replierSpy) {
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

	if err := conn.AutoMigrate(&domain.AutoReplyRule{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(6)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	replier := &replierSpy{}
	svc := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)),
		Config: config.Config{Instagram: config.InstagramConfig{
			WebhookVerifyToken: "verify-token",
		}},
		Connections: &connectionsStub{conns: map[string]*connectiondomain.Connection{
			"17890": {AccountID: 7, ExternalAccountID: "17890", AccessToken: "token", Active: true},
		}},
		Replier: replier,
	})
	return svc, replier
}

func TestVerifySubscription(t *testing.T) {
	svc, _ := setupWebhookService(t)

	challenge, err := svc.VerifySubscription("subscribe", "verify-token", "12345")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if challenge != "12345" {
		t.Fatalf("expected challenge echoed, got %q", challenge)
	}

	if _, err := svc.VerifySubscription("subscribe", "wrong", "12345"); !errors.Is(err, domain.ErrVerifyFailed) {
		t.Fatalf("expected verify failed, got %v", err)
	}
	if _, err := svc.VerifySubscription("unsubscribe", "verify-token", "12345"); !errors.Is(err, domain.ErrVerifyFailed) {
		t.Fatalf("expected verify failed on bad mode, got %v", err)
	}
}

func TestRuleValidation(t *testing.T) {
	svc, _ := setupWebhookService(t)
	ctx := identity.WithAccountID(context.Background(), 7)

	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{Keyword: "  "}); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected invalid rule for blank keyword, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{Keyword: "price"}); !errors.Is(err, domain.ErrInvalidRule) {
		t.Fatalf("expected invalid rule without any reply text, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{Keyword: "price", DMText: "Check the link!"}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
}

func TestHandleCommentEvent(t *testing.T) {
	svc, replier := setupWebhookService(t)
	ctx := identity.WithAccountID(context.Background(), 7)

	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		Keyword:   "PRICE",
		ReplyText: "Sent you a DM!",
		DMText:    "Here is the price list.",
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	payload := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "17890",
			"changes": [{
				"field": "comments",
				"value": {"id": "c-1", "text": "what is the price?", "from": {"id": "u-9"}}
			}]
		}]
	}`)

	summary, err := svc.HandleEvent(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if summary.Comments != 1 || summary.Replies != 1 || summary.DMsSent != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(replier.replies) != 1 || replier.replies[0] != "c-1:Sent you a DM!" {
		t.Fatalf("unexpected replies: %v", replier.replies)
	}
	if len(replier.dms) != 1 || replier.dms[0] != "u-9:Here is the price list." {
		t.Fatalf("unexpected dms: %v", replier.dms)
	}
}

func TestHandleMessageEvent(t *testing.T) {
	svc, replier := setupWebhookService(t)
	ctx := identity.WithAccountID(context.Background(), 7)

	if _, err := svc.CreateRule(ctx, domain.CreateRuleRequest{
		Keyword: "shipping",
		DMText:  "We ship worldwide.",
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	payload := []byte(`{
		"object": "instagram",
		"entry": [{
			"id": "17890",
			"messaging": [
				{"sender": {"id": "u-5"}, "message": {"text": "do you do shipping?"}},
				{"sender": {"id": "17890"}, "message": {"text": "shipping echo", "is_echo": true}},
				{"sender": {"id": "u-6"}, "message": {"text": "unrelated"}}
			]
		}]
	}`)

	summary, err := svc.HandleEvent(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if summary.Messages != 2 || summary.DMsSent != 1 || summary.Unmatched != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(replier.dms) != 1 || replier.dms[0] != "u-5:We ship worldwide." {
		t.Fatalf("unexpected dms: %v", replier.dms)
	}
}

func TestHandleEventUnknownProfile(t *testing.T) {
	svc, replier := setupWebhookService(t)

	payload := []byte(`{
		"object": "instagram",
		"entry": [{"id": "99999", "messaging": [{"sender": {"id": "u-1"}, "message": {"text": "hi"}}]}]
	}`)

	summary, err := svc.HandleEvent(context.Background(), payload)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if summary.Messages != 0 || len(replier.dms) != 0 {
		t.Fatalf("expected no-op for unknown profile, got %+v", summary)
	}
}

func TestHandleEventMalformedPayload(t *testing.T) {
	svc, _ := setupWebhookService(t)
	if _, err := svc.HandleEvent(context.Background(), []byte(`{not json`)); !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected malformed event, got %v", err)
	}
}
