package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Action classifies a ledger entry.
type Action string

const (
	ActionSignupGrant     Action = "signup_grant"
	ActionPurchase        Action = "purchase"
	ActionRefund          Action = "refund"
	ActionGenerateImage   Action = "generate_image"
	ActionGenerateVideo   Action = "generate_video"
	ActionGenerateAudio   Action = "generate_audio"
	ActionBonusRedemption Action = "bonus_redemption"
	ActionAdminAdjustment Action = "admin_adjustment"
)

// Balance is the authoritative credit state for one account.
// remaining_amount is kept equal to max(0, total_granted - used_amount)
// inside the same transaction as every mutation.
type Balance struct {
	AccountID       snowflake.ID `gorm:"primaryKey" json:"account_id"`
	TotalGranted    int64        `gorm:"not null;default:0" json:"total_granted"`
	UsedAmount      int64        `gorm:"not null;default:0" json:"used_amount"`
	RemainingAmount int64        `gorm:"not null;default:0" json:"remaining_amount"`
	BonusAmount     int64        `gorm:"not null;default:0" json:"bonus_amount"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Balance) TableName() string { return "credit_balances" }

// Entry is an immutable audit record. Appended in the same transaction as
// the balance mutation it describes; never updated or deleted.
type Entry struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID      `gorm:"not null;index" json:"account_id"`
	Action       Action            `gorm:"type:text;not null" json:"action"`
	Amount       int64             `gorm:"not null" json:"amount"`
	Model        string            `gorm:"type:text;not null;default:''" json:"model,omitempty"`
	DurationSecs int               `gorm:"not null;default:0" json:"duration_secs,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "credit_ledger_entries" }
