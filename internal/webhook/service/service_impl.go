package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/config"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	"github.com/postloom/postloom/internal/identity"
	publisherdomain "github.com/postloom/postloom/internal/publisher/domain"
	"github.com/postloom/postloom/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Connections connectiondomain.Service
	Replier     publisherdomain.Replier
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	connections connectiondomain.Service
	replier     publisherdomain.Replier
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Config,
		connections: p.Connections,
		replier:     p.Replier,
	}
}

func (s *Service) CreateRule(ctx context.Context, req domain.CreateRuleRequest) (*domain.AutoReplyRule, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return nil, domain.ErrInvalidRule
	}
	if strings.TrimSpace(req.ReplyText) == "" && strings.TrimSpace(req.DMText) == "" {
		return nil, domain.ErrInvalidRule
	}

	now := s.clock.Now().UTC()
	rule := &domain.AutoReplyRule{
		ID:        s.genID.Generate(),
		AccountID: accountID,
		Keyword:   keyword,
		ReplyText: strings.TrimSpace(req.ReplyText),
		DMText:    strings.TrimSpace(req.DMText),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context) ([]*domain.AutoReplyRule, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	var rules []*domain.AutoReplyRule
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		Find(&rules).Error
	return rules, err
}

func (s *Service) UpdateRule(ctx context.Context, req domain.UpdateRuleRequest) (*domain.AutoReplyRule, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	fields := map[string]any{"updated_at": s.clock.Now().UTC()}
	if req.Keyword != nil {
		keyword := strings.TrimSpace(*req.Keyword)
		if keyword == "" {
			return nil, domain.ErrInvalidRule
		}
		fields["keyword"] = keyword
	}
	if req.ReplyText != nil {
		fields["reply_text"] = strings.TrimSpace(*req.ReplyText)
	}
	if req.DMText != nil {
		fields["dm_text"] = strings.TrimSpace(*req.DMText)
	}
	if req.Active != nil {
		fields["active"] = *req.Active
	}

	tx := s.db.WithContext(ctx).
		Model(&domain.AutoReplyRule{}).
		Where("id = ? AND account_id = ?", req.ID, accountID).
		Updates(fields)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, domain.ErrRuleNotFound
	}

	var rule domain.AutoReplyRule
	if err := s.db.WithContext(ctx).Where("id = ?", req.ID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) DeleteRule(ctx context.Context, id snowflake.ID) error {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ErrInvalidAccount
	}

	tx := s.db.WithContext(ctx).Exec(
		`DELETE FROM auto_reply_rules WHERE id = ? AND account_id = ?`, id, accountID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (s *Service) VerifySubscription(mode, token, challenge string) (string, error) {
	if mode != "subscribe" {
		return "", domain.ErrVerifyFailed
	}
	if s.cfg.Instagram.WebhookVerifyToken == "" || token != s.cfg.Instagram.WebhookVerifyToken {
		return "", domain.ErrVerifyFailed
	}
	return challenge, nil
}

// event mirrors the Graph webhook delivery shape. Only the fields the
// auto-reply flow needs are decoded.
type event struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message struct {
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				ID   string `json:"id"`
				Text string `json:"text"`
				From struct {
					ID string `json:"id"`
				} `json:"from"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (s *Service) HandleEvent(ctx context.Context, payload []byte) (domain.EventSummary, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return domain.EventSummary{}, domain.ErrMalformedEvent
	}
	if evt.Object != "instagram" {
		return domain.EventSummary{}, nil
	}

	var summary domain.EventSummary
	for _, entry := range evt.Entry {
		conn, err := s.connections.ByExternalAccountID(ctx, connectiondomain.PlatformInstagram, entry.ID)
		if err != nil {
			s.log.Debug("webhook for unknown profile", zap.String("external_id", entry.ID))
			continue
		}

		rules, err := s.activeRules(ctx, conn.AccountID)
		if err != nil {
			return summary, err
		}

		for _, messaging := range entry.Messaging {
			if messaging.Message.Text == "" || messaging.Message.IsEcho {
				continue
			}
			if messaging.Sender.ID == entry.ID {
				continue
			}
			summary.Messages++

			rule := matchRule(rules, messaging.Message.Text)
			if rule == nil {
				summary.Unmatched++
				continue
			}
			text := rule.DMText
			if text == "" {
				text = rule.ReplyText
			}
			if err := s.replier.SendDM(ctx, conn, messaging.Sender.ID, text); err != nil {
				s.log.Warn("auto-reply dm failed",
					zap.Int64("rule_id", int64(rule.ID)),
					zap.Error(err))
				continue
			}
			summary.DMsSent++
		}

		for _, change := range entry.Changes {
			if change.Field != "comments" || change.Value.Text == "" {
				continue
			}
			if change.Value.From.ID == entry.ID {
				continue
			}
			summary.Comments++

			rule := matchRule(rules, change.Value.Text)
			if rule == nil {
				summary.Unmatched++
				continue
			}
			if rule.ReplyText != "" {
				if err := s.replier.ReplyToComment(ctx, conn, change.Value.ID, rule.ReplyText); err != nil {
					s.log.Warn("auto-reply comment failed",
						zap.Int64("rule_id", int64(rule.ID)),
						zap.Error(err))
				} else {
					summary.Replies++
				}
			}
			if rule.DMText != "" && change.Value.From.ID != "" {
				if err := s.replier.SendDM(ctx, conn, change.Value.From.ID, rule.DMText); err != nil {
					s.log.Warn("auto-reply dm failed",
						zap.Int64("rule_id", int64(rule.ID)),
						zap.Error(err))
				} else {
					summary.DMsSent++
				}
			}
		}
	}
	return summary, nil
}

func (s *Service) activeRules(ctx context.Context, accountID snowflake.ID) ([]*domain.AutoReplyRule, error) {
	var rules []*domain.AutoReplyRule
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND active", accountID).
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

// matchRule returns the first active rule whose keyword appears in the
// text, case-insensitively.
func matchRule(rules []*domain.AutoReplyRule, text string) *domain.AutoReplyRule {
	lowered := strings.ToLower(text)
	for _, rule := range rules {
		if strings.Contains(lowered, strings.ToLower(rule.Keyword)) {
			return rule
		}
	}
	return nil
}
