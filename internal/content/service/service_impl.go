package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/identity"
	"github.com/postloom/postloom/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("content.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateItemRequest) (*domain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if !req.Kind.Valid() {
		return nil, domain.ErrInvalidKind
	}

	status := domain.StatusDraft
	if strings.TrimSpace(req.MediaURL) != "" {
		status = domain.StatusReady
	}

	now := s.clock.Now().UTC()
	item := &domain.Item{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Kind:      req.Kind,
		Status:    status,
		Caption:   strings.TrimSpace(req.Caption),
		MediaURL:  strings.TrimSpace(req.MediaURL),
		ChildURLs: datatypes.NewJSONSlice(req.ChildURLs),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	return s.repo.FindByID(ctx, s.db, accountID, id)
}

func (s *Service) List(ctx context.Context, req domain.ListItemsRequest) (domain.ListItemsResponse, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ListItemsResponse{}, domain.ErrInvalidAccount
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	items, err := s.repo.List(ctx, s.db, accountID, domain.ListFilter{
		Status: req.Status,
		Kind:   req.Kind,
	}, page)
	if err != nil {
		return domain.ListItemsResponse{}, err
	}

	limit := page.Limit()
	pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Item) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > limit {
		items = items[:limit]
	}

	return domain.ListItemsResponse{PageInfo: *pageInfo, Items: items}, nil
}

// editable reports whether user edits are allowed in the given state.
func editable(status domain.Status) bool {
	switch status {
	case domain.StatusDraft, domain.StatusReady, domain.StatusFailed:
		return true
	}
	return false
}

func (s *Service) Update(ctx context.Context, req domain.UpdateItemRequest) (*domain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	item, err := s.repo.FindByID(ctx, s.db, accountID, req.ID)
	if err != nil {
		return nil, err
	}
	if !editable(item.Status) {
		return nil, domain.ErrInvalidState
	}

	fields := map[string]any{"updated_at": s.clock.Now().UTC()}
	if req.Caption != nil {
		fields["caption"] = strings.TrimSpace(*req.Caption)
	}
	if req.MediaURL != nil {
		fields["media_url"] = strings.TrimSpace(*req.MediaURL)
	}
	if req.ChildURLs != nil {
		fields["child_urls"] = datatypes.NewJSONSlice(req.ChildURLs)
	}

	// Editing a failed item clears the failure and returns it to a usable
	// state; whether that is draft or ready depends on the media.
	if item.Status == domain.StatusFailed {
		fields["error_text"] = ""
		fields["status"] = domain.StatusDraft
	}
	mediaURL := item.MediaURL
	if req.MediaURL != nil {
		mediaURL = strings.TrimSpace(*req.MediaURL)
	}
	if mediaURL != "" && item.Status != domain.StatusReady {
		fields["status"] = domain.StatusReady
	}

	if err := s.repo.UpdateFields(ctx, s.db, accountID, req.ID, fields); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, accountID, req.ID)
}

func (s *Service) Schedule(ctx context.Context, id snowflake.ID, at time.Time) (*domain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	now := s.clock.Now().UTC()
	if !at.After(now) {
		return nil, domain.ErrScheduleInPast
	}

	item, err := s.repo.FindByID(ctx, s.db, accountID, id)
	if err != nil {
		return nil, err
	}
	if item.MediaURL == "" {
		return nil, domain.ErrMissingMedia
	}

	ok, err = s.repo.TransitionStatus(ctx, s.db, id, domain.StatusReady, domain.StatusScheduled, map[string]any{
		"scheduled_at": at.UTC(),
		"updated_at":   now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// A failed publish is not a dead end; rescheduling clears it.
		ok, err = s.repo.TransitionStatus(ctx, s.db, id, domain.StatusFailed, domain.StatusScheduled, map[string]any{
			"scheduled_at": at.UTC(),
			"updated_at":   now,
			"error_text":   "",
		})
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}

	s.log.Info("content scheduled",
		zap.Int64("item_id", int64(id)),
		zap.Time("scheduled_at", at.UTC()))
	return s.repo.FindByID(ctx, s.db, accountID, id)
}

func (s *Service) CancelSchedule(ctx context.Context, id snowflake.ID) (*domain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	if _, err := s.repo.FindByID(ctx, s.db, accountID, id); err != nil {
		return nil, err
	}

	// Conditional transition: once a sweeper claimed the item for
	// publishing the cancel fails instead of un-claiming it.
	ok, err := s.repo.TransitionStatus(ctx, s.db, id, domain.StatusScheduled, domain.StatusReady, map[string]any{
		"scheduled_at": nil,
		"updated_at":   s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidState
	}
	return s.repo.FindByID(ctx, s.db, accountID, id)
}

func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ErrInvalidAccount
	}

	item, err := s.repo.FindByID(ctx, s.db, accountID, id)
	if err != nil {
		return err
	}
	switch item.Status {
	case domain.StatusScheduled, domain.StatusPublishing, domain.StatusGenerating:
		return domain.ErrInvalidState
	}
	return s.repo.Delete(ctx, s.db, accountID, id)
}
