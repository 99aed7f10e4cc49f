package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/identity"
	"github.com/postloom/postloom/internal/notification/domain"
	"github.com/postloom/postloom/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Notify(ctx context.Context, accountID snowflake.ID, kind domain.Kind, title, body string) {
	if accountID == 0 {
		return
	}

	notification := &domain.Notification{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Kind:      kind,
		Title:     title,
		Body:      body,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(notification).Error; err != nil {
		s.log.Warn("notification dropped",
			zap.Int64("account_id", int64(accountID)),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, page pagination.Pagination) (domain.ListResponse, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidAccount
	}

	query := s.db.WithContext(ctx).Where("account_id = ?", accountID)
	if page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(page.PageToken)
		if err != nil {
			return domain.ListResponse{}, domain.ErrNotFound
		}
		after, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListResponse{}, domain.ErrNotFound
		}
		query = query.Where("id < ?", after)
	}

	limit := page.Limit()
	var notifications []*domain.Notification
	if err := query.Order("id DESC").Limit(limit + 1).Find(&notifications).Error; err != nil {
		return domain.ListResponse{}, err
	}

	var unread int64
	if err := s.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("account_id = ? AND read = ?", accountID, false).
		Count(&unread).Error; err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(notifications, limit, func(n *domain.Notification) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: n.ID.String()})
		return token
	})
	if pageInfo.HasMore && len(notifications) > limit {
		notifications = notifications[:limit]
	}

	return domain.ListResponse{
		PageInfo:      *pageInfo,
		Notifications: notifications,
		UnreadCount:   unread,
	}, nil
}

func (s *Service) MarkRead(ctx context.Context, id snowflake.ID) error {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ErrInvalidAccount
	}

	tx := s.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("read", true)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ErrInvalidAccount
	}

	return s.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("account_id = ? AND read = ?", accountID, false).
		Update("read", true).Error
}
