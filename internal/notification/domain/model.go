package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/pkg/db/pagination"
)

type Kind string

const (
	KindPublishSucceeded  Kind = "publish_succeeded"
	KindPublishFailed     Kind = "publish_failed"
	KindGenerationDone    Kind = "generation_done"
	KindGenerationFailed  Kind = "generation_failed"
	KindConnectionExpired Kind = "connection_expired"
	KindCreditsPurchased  Kind = "credits_purchased"
)

type Notification struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	Kind      Kind         `gorm:"type:text;not null" json:"kind"`
	Title     string       `gorm:"type:text;not null;default:''" json:"title"`
	Body      string       `gorm:"type:text;not null;default:''" json:"body"`
	Read      bool         `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

type ListResponse struct {
	pagination.PageInfo
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int64           `json:"unread_count"`
}

type Service interface {
	// Notify records a notification for an account. Fire-and-forget for
	// callers; a failed insert is logged, never propagated into the
	// triggering operation.
	Notify(ctx context.Context, accountID snowflake.ID, kind Kind, title, body string)

	List(ctx context.Context, page pagination.Pagination) (ListResponse, error)
	MarkRead(ctx context.Context, id snowflake.ID) error
	MarkAllRead(ctx context.Context) error
}

var (
	ErrNotFound       = errors.New("notification_not_found")
	ErrInvalidAccount = errors.New("invalid_account")
)
