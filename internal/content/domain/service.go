package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/pkg/db/pagination"
)

type CreateItemRequest struct {
	Kind      Kind                        `json:"kind" binding:"required"`
	Caption   string                      `json:"caption"`
	MediaURL  string                      `json:"media_url"`
	ChildURLs []string                    `json:"child_urls"`
}

type UpdateItemRequest struct {
	ID        snowflake.ID
	Caption   *string  `json:"caption"`
	MediaURL  *string  `json:"media_url"`
	ChildURLs []string `json:"child_urls"`
}

type ListItemsRequest struct {
	Status    Status `form:"status"`
	Kind      Kind   `form:"kind"`
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListItemsResponse struct {
	pagination.PageInfo
	Items []*Item `json:"items"`
}

type Service interface {
	Create(ctx context.Context, req CreateItemRequest) (*Item, error)
	Get(ctx context.Context, id snowflake.ID) (*Item, error)
	List(ctx context.Context, req ListItemsRequest) (ListItemsResponse, error)

	// Update edits caption or media while the item is draft, ready or
	// failed. Scheduled and in-flight items are immutable.
	Update(ctx context.Context, req UpdateItemRequest) (*Item, error)

	// Schedule queues a ready item for publication at the given time.
	Schedule(ctx context.Context, id snowflake.ID, at time.Time) (*Item, error)

	// CancelSchedule returns a scheduled item to ready. Once a sweeper has
	// claimed the item the cancel loses the race and fails.
	CancelSchedule(ctx context.Context, id snowflake.ID) (*Item, error)

	Delete(ctx context.Context, id snowflake.ID) error
}
