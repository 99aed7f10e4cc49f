package domain

import (
	"context"
	"errors"

	contentdomain "github.com/postloom/postloom/internal/content/domain"
)

// TaskState is the lifecycle of an asynchronous generation task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

type GenerateInput struct {
	Prompt       string
	Model        string
	DurationSecs int
}

// StartResult is what a provider returns from Generate. Synchronous
// providers fill Data; task-based providers fill TaskID and are polled
// later.
type StartResult struct {
	Data     []byte
	MIMEType string
	TaskID   string
}

type TaskStatus struct {
	State    TaskState
	MediaURL string
	Reason   string
}

// Provider generates media. One provider serves one content kind.
type Provider interface {
	Name() string
	Kind() contentdomain.Kind
	Generate(ctx context.Context, input GenerateInput) (*StartResult, error)

	// CheckTask reports progress of an async task. Synchronous providers
	// return ErrNoSuchTask.
	CheckTask(ctx context.Context, taskID string) (*TaskStatus, error)
}

var (
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrNoSuchTask       = errors.New("no_such_task")
	ErrProviderFailed   = errors.New("generation_provider_failed")
)
