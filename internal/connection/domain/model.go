package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Platform is an external publishing target.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
)

func (p Platform) Valid() bool {
	return p == PlatformInstagram
}

// Connection links an account to an external platform profile. At most one
// active connection exists per account and platform; replaced connections
// are kept inactive for audit.
type Connection struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID         snowflake.ID `gorm:"not null;index" json:"account_id"`
	Platform          Platform     `gorm:"type:text;not null" json:"platform"`
	ExternalAccountID string       `gorm:"type:text;not null" json:"external_account_id"`
	AccessToken       string       `gorm:"type:text;not null" json:"-"`
	TokenExpiresAt    *time.Time   `json:"token_expires_at,omitempty"`
	Active            bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Connection) TableName() string { return "platform_connections" }
