package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Pack is a purchasable credit bundle. The catalog is static; prices are
// created inline on the checkout session rather than referencing Stripe
// price objects.
type Pack struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

var packs = []Pack{
	{Code: "starter", Name: "Starter Pack", Credits: 100, AmountCents: 900, Currency: "usd"},
	{Code: "creator", Name: "Creator Pack", Credits: 500, AmountCents: 3900, Currency: "usd"},
	{Code: "studio", Name: "Studio Pack", Credits: 2000, AmountCents: 12900, Currency: "usd"},
}

func Packs() []Pack {
	out := make([]Pack, len(packs))
	copy(out, packs)
	return out
}

func PackByCode(code string) (Pack, bool) {
	for _, p := range packs {
		if p.Code == code {
			return p, true
		}
	}
	return Pack{}, false
}

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
)

// Purchase records one checkout session. provider_session_id carries a
// unique index so a redelivered completion event grants at most once.
type Purchase struct {
	ID                snowflake.ID   `gorm:"primaryKey" json:"id"`
	AccountID         snowflake.ID   `gorm:"not null;index" json:"account_id"`
	PackCode          string         `gorm:"type:text;not null" json:"pack_code"`
	Credits           int64          `gorm:"not null" json:"credits"`
	AmountCents       int64          `gorm:"not null" json:"amount_cents"`
	Currency          string         `gorm:"type:text;not null;default:'usd'" json:"currency"`
	ProviderSessionID string         `gorm:"type:text;not null;uniqueIndex" json:"provider_session_id"`
	Status            PurchaseStatus `gorm:"type:text;not null;default:'pending'" json:"status"`
	CreatedAt         time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

func (Purchase) TableName() string { return "credit_purchases" }
