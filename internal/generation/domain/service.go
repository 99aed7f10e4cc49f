package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
)

// Credit prices per generation, charged before the provider is called and
// refunded when generation fails.
const (
	CostImage int64 = 5
	CostVideo int64 = 20
	CostAudio int64 = 10
)

// CostFor returns the credit price for generating the given kind.
func CostFor(kind contentdomain.Kind, durationSecs int) (int64, bool) {
	switch kind {
	case contentdomain.KindImage, contentdomain.KindStory:
		return CostImage, true
	case contentdomain.KindVideo:
		cost := CostVideo
		if durationSecs > 10 {
			cost *= 2
		}
		return cost, true
	case contentdomain.KindAudio:
		return CostAudio, true
	}
	return 0, false
}

type GenerateRequest struct {
	Kind         contentdomain.Kind `json:"kind" binding:"required"`
	Prompt       string             `json:"prompt" binding:"required"`
	Model        string             `json:"model"`
	Caption      string             `json:"caption"`
	DurationSecs int                `json:"duration_secs"`
}

// PollSummary aggregates one pass over in-flight generation tasks.
type PollSummary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type Service interface {
	// Generate charges credits, creates the content item and invokes the
	// provider for the requested kind. Synchronous providers leave the item
	// ready; task-based providers leave it generating for the poller.
	Generate(ctx context.Context, req GenerateRequest) (*contentdomain.Item, error)

	// PollTasks advances in-flight async generations: completed tasks
	// become ready items, failed tasks are refunded and marked failed.
	PollTasks(ctx context.Context, limit int) (PollSummary, error)

	// Retry re-runs generation for a failed item, charging again.
	Retry(ctx context.Context, itemID snowflake.ID) (*contentdomain.Item, error)
}

var (
	ErrInvalidAccount = errors.New("invalid_account")
	ErrInvalidPrompt  = errors.New("invalid_prompt")
	ErrInvalidKind    = errors.New("invalid_generation_kind")
)
