package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/pkg/db"
	"github.com/postloom/postloom/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func New() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, item *domain.Item) error {
	return conn.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, accountID, id snowflake.ID) (*domain.Item, error) {
	var item domain.Item
	err := conn.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, accountID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Item, error) {
	query := conn.WithContext(ctx).Where("account_id = ?", accountID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}

	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidInput
		}
		query = query.Where("id < ?", after)
	}

	var items []*domain.Item
	err := query.Order("id DESC").Limit(page.Limit() + 1).Find(&items).Error
	return items, err
}

func (r *repo) UpdateFields(ctx context.Context, conn *gorm.DB, accountID, id snowflake.ID, fields map[string]any) error {
	tx := conn.WithContext(ctx).
		Model(&domain.Item{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(fields)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, accountID, id snowflake.ID) error {
	tx := conn.WithContext(ctx).Exec(
		`DELETE FROM content_items WHERE id = ? AND account_id = ?`, id, accountID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) TransitionStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from, to domain.Status, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}

	tx := conn.WithContext(ctx).
		Model(&domain.Item{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repo) ClaimDueForPublish(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]*domain.Item, error) {
	var claimed []*domain.Item

	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Items whose owner has no usable connection are left scheduled;
		// they become claimable again once the account reconnects.
		query := `
			SELECT * FROM content_items
			WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
			AND EXISTS (
				SELECT 1 FROM platform_connections pc
				WHERE pc.account_id = content_items.account_id
				AND pc.active = ?
				AND (pc.token_expires_at IS NULL OR pc.token_expires_at > ?)
			)
			ORDER BY scheduled_at ASC
			LIMIT ?`
		if db.SupportsRowLocking(tx) {
			query += ` FOR UPDATE SKIP LOCKED`
		}

		var due []*domain.Item
		if err := tx.Raw(query, domain.StatusScheduled, now, true, now, limit).Scan(&due).Error; err != nil {
			return err
		}

		for _, item := range due {
			res := tx.Model(&domain.Item{}).
				Where("id = ? AND status = ?", item.ID, domain.StatusScheduled).
				Updates(map[string]any{"status": domain.StatusPublishing, "updated_at": now})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			item.Status = domain.StatusPublishing
			claimed = append(claimed, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *repo) ListGenerating(ctx context.Context, conn *gorm.DB, limit int) ([]*domain.Item, error) {
	var items []*domain.Item
	err := conn.WithContext(ctx).
		Where("status = ? AND provider_task_id <> ''", domain.StatusGenerating).
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
