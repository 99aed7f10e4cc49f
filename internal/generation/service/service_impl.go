package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/internal/generation/domain"
	"github.com/postloom/postloom/internal/generation/providers"
	"github.com/postloom/postloom/internal/identity"
	"github.com/postloom/postloom/internal/media"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MediaStore is the slice of media.Storage the generator needs.
type MediaStore interface {
	Store(ctx context.Context, accountID snowflake.ID, filename string, body io.Reader, size int64) (*media.StoredObject, error)
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Registry      *providers.Registry
	Credits       creditsdomain.Service
	ContentRepo   contentdomain.Repository
	Media         MediaStore
	Notifications notificationdomain.Service
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	registry      *providers.Registry
	credits       creditsdomain.Service
	contentRepo   contentdomain.Repository
	media         MediaStore
	notifications notificationdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("generation.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		registry:      p.Registry,
		credits:       p.Credits,
		contentRepo:   p.ContentRepo,
		media:         p.Media,
		notifications: p.Notifications,
	}
}

func actionFor(kind contentdomain.Kind) creditsdomain.Action {
	switch kind {
	case contentdomain.KindVideo:
		return creditsdomain.ActionGenerateVideo
	case contentdomain.KindAudio:
		return creditsdomain.ActionGenerateAudio
	}
	return creditsdomain.ActionGenerateImage
}

func extensionFor(mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) (*contentdomain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if req.Prompt == "" {
		return nil, domain.ErrInvalidPrompt
	}

	cost, ok := domain.CostFor(req.Kind, req.DurationSecs)
	if !ok {
		return nil, domain.ErrInvalidKind
	}
	provider, err := s.registry.ForKind(req.Kind)
	if err != nil {
		return nil, domain.ErrInvalidKind
	}

	// Credits are charged before the provider call; a failed generation
	// refunds them.
	if _, err := s.credits.Deduct(ctx, creditsdomain.DeductRequest{
		AccountID:    accountID,
		Amount:       cost,
		Action:       actionFor(req.Kind),
		Model:        req.Model,
		DurationSecs: req.DurationSecs,
		Metadata:     datatypes.JSONMap{"provider": provider.Name()},
	}); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	item := &contentdomain.Item{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Kind:      req.Kind,
		Status:    contentdomain.StatusGenerating,
		Caption:   req.Caption,
		Prompt:    req.Prompt,
		Provider:  provider.Name(),
		Model:     req.Model,
		Cost:      cost,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.contentRepo.Insert(ctx, s.db, item); err != nil {
		// The charge stands without an item to attach to; give it back.
		s.refund(ctx, accountID, cost, item.ID, "item_insert_failed")
		return nil, err
	}

	return s.runProvider(ctx, provider, item, req.DurationSecs)
}

func (s *Service) runProvider(ctx context.Context, provider domain.Provider, item *contentdomain.Item, durationSecs int) (*contentdomain.Item, error) {
	result, err := provider.Generate(ctx, domain.GenerateInput{
		Prompt:       item.Prompt,
		Model:        item.Model,
		DurationSecs: durationSecs,
	})
	if err != nil {
		s.failItem(ctx, item, err.Error())
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailed, err)
	}

	if result.TaskID != "" {
		if err := s.contentRepo.UpdateFields(ctx, s.db, item.AccountID, item.ID, map[string]any{
			"provider_task_id": result.TaskID,
			"updated_at":       s.clock.Now().UTC(),
		}); err != nil {
			return nil, err
		}
		item.ProviderTaskID = result.TaskID
		return item, nil
	}

	stored, err := s.media.Store(ctx, item.AccountID, "generated"+extensionFor(result.MIMEType), bytes.NewReader(result.Data), int64(len(result.Data)))
	if err != nil {
		s.failItem(ctx, item, "store media: "+err.Error())
		return nil, err
	}

	if err := s.contentRepo.UpdateFields(ctx, s.db, item.AccountID, item.ID, map[string]any{
		"status":     contentdomain.StatusReady,
		"media_url":  stored.URL,
		"media_key":  stored.Key,
		"updated_at": s.clock.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	item.Status = contentdomain.StatusReady
	item.MediaURL = stored.URL
	item.MediaKey = stored.Key
	s.notifications.Notify(ctx, item.AccountID, notificationdomain.KindGenerationDone,
		"Generation finished", "Your "+string(item.Kind)+" is ready to schedule.")
	return item, nil
}

// failItem marks the item failed and refunds the charge. Best effort on
// both sides; the item keeps the error text either way.
func (s *Service) failItem(ctx context.Context, item *contentdomain.Item, reason string) {
	if err := s.contentRepo.UpdateFields(ctx, s.db, item.AccountID, item.ID, map[string]any{
		"status":     contentdomain.StatusFailed,
		"error_text": reason,
		"updated_at": s.clock.Now().UTC(),
	}); err != nil {
		s.log.Error("mark failed item", zap.Int64("item_id", int64(item.ID)), zap.Error(err))
	}
	s.refund(ctx, item.AccountID, item.Cost, item.ID, reason)
	s.notifications.Notify(ctx, item.AccountID, notificationdomain.KindGenerationFailed,
		"Generation failed", "Credits were refunded.")
}

func (s *Service) refund(ctx context.Context, accountID snowflake.ID, amount int64, itemID snowflake.ID, reason string) {
	if amount <= 0 {
		return
	}
	if _, err := s.credits.Refund(ctx, accountID, amount, datatypes.JSONMap{
		"item_id": itemID.String(),
		"reason":  reason,
	}); err != nil {
		s.log.Error("refund failed",
			zap.Int64("account_id", int64(accountID)),
			zap.Int64("item_id", int64(itemID)),
			zap.Error(err))
	}
}

func (s *Service) PollTasks(ctx context.Context, limit int) (domain.PollSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	items, err := s.contentRepo.ListGenerating(ctx, s.db, limit)
	if err != nil {
		return domain.PollSummary{}, err
	}

	var summary domain.PollSummary
	var errs []error
	for _, item := range items {
		summary.Checked++

		provider, err := s.registry.ByName(item.Provider)
		if err != nil {
			s.failItem(ctx, item, "provider no longer registered")
			summary.Failed++
			continue
		}

		status, err := provider.CheckTask(ctx, item.ProviderTaskID)
		if err != nil {
			// Transient poll failures leave the task for the next sweep.
			errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
			continue
		}

		switch status.State {
		case domain.TaskSucceeded:
			ok, err := s.contentRepo.TransitionStatus(ctx, s.db, item.ID, contentdomain.StatusGenerating, contentdomain.StatusReady, map[string]any{
				"media_url":  status.MediaURL,
				"updated_at": s.clock.Now().UTC(),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("item %s: %w", item.ID, err))
				continue
			}
			if ok {
				summary.Completed++
				s.notifications.Notify(ctx, item.AccountID, notificationdomain.KindGenerationDone,
					"Generation finished", "Your "+string(item.Kind)+" is ready to schedule.")
			}
		case domain.TaskFailed:
			s.failItem(ctx, item, status.Reason)
			summary.Failed++
		}
	}

	return summary, errors.Join(errs...)
}

func (s *Service) Retry(ctx context.Context, itemID snowflake.ID) (*contentdomain.Item, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	item, err := s.contentRepo.FindByID(ctx, s.db, accountID, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != contentdomain.StatusFailed || item.Prompt == "" {
		return nil, contentdomain.ErrInvalidState
	}

	provider, err := s.registry.ForKind(item.Kind)
	if err != nil {
		return nil, domain.ErrInvalidKind
	}
	cost, _ := domain.CostFor(item.Kind, 0)

	if _, err := s.credits.Deduct(ctx, creditsdomain.DeductRequest{
		AccountID: accountID,
		Amount:    cost,
		Action:    actionFor(item.Kind),
		Model:     item.Model,
		Metadata:  datatypes.JSONMap{"provider": provider.Name(), "retry_of": item.ID.String()},
	}); err != nil {
		return nil, err
	}

	if err := s.contentRepo.UpdateFields(ctx, s.db, accountID, item.ID, map[string]any{
		"status":     contentdomain.StatusGenerating,
		"error_text": "",
		"cost":       cost,
		"updated_at": s.clock.Now().UTC(),
	}); err != nil {
		s.refund(ctx, accountID, cost, item.ID, "retry_update_failed")
		return nil, err
	}
	item.Status = contentdomain.StatusGenerating
	item.Cost = cost

	return s.runProvider(ctx, provider, item, 0)
}
