package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Account struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	Email        string       `gorm:"type:text;not null;uniqueIndex" json:"email"`
	DisplayName  string       `gorm:"type:text;not null;default:''" json:"display_name"`
	PasswordHash *string      `gorm:"type:text" json:"-"`
	Active       bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

type Session struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	TokenHash string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	UserAgent string       `gorm:"type:text;not null;default:''" json:"user_agent"`
	IPAddress string       `gorm:"type:text;not null;default:''" json:"ip_address"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	RevokedAt *time.Time   `json:"revoked_at,omitempty"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Session) TableName() string { return "sessions" }
