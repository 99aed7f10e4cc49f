package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind identifies the media type of a content item.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindCarousel Kind = "carousel"
	KindStory    Kind = "story"
)

func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindCarousel, KindStory:
		return true
	}
	return false
}

// Status is the content lifecycle state. Transitions only move forward
// except for cancel (scheduled back to ready) and retry (failed back to
// draft via update).
type Status string

const (
	StatusDraft      Status = "draft"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
)

type Item struct {
	ID              snowflake.ID                 `gorm:"primaryKey" json:"id"`
	AccountID       snowflake.ID                 `gorm:"not null;index" json:"account_id"`
	Kind            Kind                         `gorm:"type:text;not null" json:"kind"`
	Status          Status                       `gorm:"type:text;not null;default:'draft'" json:"status"`
	Caption         string                       `gorm:"type:text;not null;default:''" json:"caption"`
	MediaURL        string                       `gorm:"type:text;not null;default:''" json:"media_url"`
	MediaKey        string                       `gorm:"type:text;not null;default:''" json:"media_key"`
	ChildURLs       datatypes.JSONSlice[string]  `gorm:"type:jsonb" json:"child_urls,omitempty"`
	Prompt          string                       `gorm:"type:text;not null;default:''" json:"prompt,omitempty"`
	Provider        string                       `gorm:"type:text;not null;default:''" json:"provider,omitempty"`
	ProviderTaskID  string                       `gorm:"type:text;not null;default:''" json:"provider_task_id,omitempty"`
	Model           string                       `gorm:"type:text;not null;default:''" json:"model,omitempty"`
	Cost            int64                        `gorm:"not null;default:0" json:"cost,omitempty"`
	ScheduledAt     *time.Time                   `json:"scheduled_at,omitempty"`
	PublishedAt     *time.Time                   `json:"published_at,omitempty"`
	ExternalMediaID string                       `gorm:"type:text;not null;default:''" json:"external_media_id,omitempty"`
	ErrorText       string                       `gorm:"type:text;not null;default:''" json:"error_text,omitempty"`
	CreatedAt       time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time                    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Item) TableName() string { return "content_items" }
