package domain

import (
	"context"
	"errors"

	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
)

type PublishResult struct {
	ExternalMediaID string
}

// Publisher pushes a content item to the connected platform profile.
type Publisher interface {
	Publish(ctx context.Context, conn *connectiondomain.Connection, item *contentdomain.Item) (*PublishResult, error)
}

// Replier sends conversational replies on the platform. Used by the webhook
// auto-reply flow.
type Replier interface {
	SendDM(ctx context.Context, conn *connectiondomain.Connection, recipientID, text string) error
	ReplyToComment(ctx context.Context, conn *connectiondomain.Connection, commentID, text string) error
}

var (
	// ErrExternal marks upstream platform failures. Retried where safe and
	// surfaced as a gateway error otherwise.
	ErrExternal = errors.New("platform_unavailable")

	// ErrRejected marks permanent platform refusals (bad media, policy).
	// Never retried.
	ErrRejected = errors.New("platform_rejected")

	ErrUnsupportedKind = errors.New("unsupported_content_kind")
)
