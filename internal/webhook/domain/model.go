package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// AutoReplyRule sends a canned reply when an incoming comment or DM
// contains the keyword.
type AutoReplyRule struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	Keyword   string       `gorm:"type:text;not null" json:"keyword"`
	ReplyText string       `gorm:"type:text;not null;default:''" json:"reply_text"`
	DMText    string       `gorm:"type:text;not null;default:''" json:"dm_text"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (AutoReplyRule) TableName() string { return "auto_reply_rules" }

type CreateRuleRequest struct {
	Keyword   string `json:"keyword" binding:"required"`
	ReplyText string `json:"reply_text"`
	DMText    string `json:"dm_text"`
}

type UpdateRuleRequest struct {
	ID        snowflake.ID
	Keyword   *string `json:"keyword"`
	ReplyText *string `json:"reply_text"`
	DMText    *string `json:"dm_text"`
	Active    *bool   `json:"active"`
}

// EventSummary counts what one webhook delivery triggered.
type EventSummary struct {
	Comments  int `json:"comments"`
	Messages  int `json:"messages"`
	Replies   int `json:"replies"`
	DMsSent   int `json:"dms_sent"`
	Unmatched int `json:"unmatched"`
}

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*AutoReplyRule, error)
	ListRules(ctx context.Context) ([]*AutoReplyRule, error)
	UpdateRule(ctx context.Context, req UpdateRuleRequest) (*AutoReplyRule, error)
	DeleteRule(ctx context.Context, id snowflake.ID) error

	// VerifySubscription answers the platform's GET challenge handshake.
	VerifySubscription(mode, token, challenge string) (string, error)

	// HandleEvent dispatches a verified webhook delivery to the matching
	// auto-reply rules.
	HandleEvent(ctx context.Context, payload []byte) (EventSummary, error)
}

var (
	ErrRuleNotFound     = errors.New("rule_not_found")
	ErrInvalidRule      = errors.New("invalid_rule")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrVerifyFailed     = errors.New("webhook_verify_failed")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrMalformedEvent   = errors.New("malformed_webhook_event")
)
