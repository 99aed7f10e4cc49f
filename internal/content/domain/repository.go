package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status Status
	Kind   Kind
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Item) error
	FindByID(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) (*Item, error)
	List(ctx context.Context, db *gorm.DB, accountID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Item, error)
	UpdateFields(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, accountID, id snowflake.ID) error

	// TransitionStatus performs a compare-and-set on status. Returns false
	// when the row was not in the expected state, which callers treat as
	// losing the claim race.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, fields map[string]any) (bool, error)

	// ClaimDueForPublish atomically moves due scheduled items to publishing
	// and returns the claimed rows. Safe to call from concurrent sweepers.
	ClaimDueForPublish(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Item, error)

	// ListGenerating returns items waiting on an async generation task.
	ListGenerating(ctx context.Context, db *gorm.DB, limit int) ([]*Item, error)
}
