package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/config"
	"github.com/postloom/postloom/internal/connection/domain"
	"github.com/postloom/postloom/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const oauthStateTTL = 15 * time.Minute

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Exchanger domain.TokenExchanger
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.Config
	exchanger domain.TokenExchanger
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("connection.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Config,
		exchanger: p.Exchanger,
	}
}

type stateClaims struct {
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`
	jwt.RegisteredClaims
}

func (s *Service) BeginOAuth(ctx context.Context, platform domain.Platform) (domain.BeginOAuthResponse, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.BeginOAuthResponse{}, domain.ErrInvalidAccount
	}
	if !platform.Valid() {
		return domain.BeginOAuthResponse{}, domain.ErrInvalidPlatform
	}

	now := s.clock.Now().UTC()
	claims := stateClaims{
		AccountID: accountID.String(),
		Platform:  string(platform),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTTL)),
		},
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.AuthJWTSecret))
	if err != nil {
		return domain.BeginOAuthResponse{}, err
	}

	return domain.BeginOAuthResponse{
		AuthorizeURL: s.exchanger.AuthorizeURL(state, s.cfg.Instagram.RedirectURL),
		State:        state,
	}, nil
}

func (s *Service) verifyState(state string, accountID snowflake.ID, platform domain.Platform) error {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.AuthJWTSecret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.clock.Now().UTC() }))
	if err != nil || !token.Valid {
		return domain.ErrInvalidOAuthState
	}
	if claims.AccountID != accountID.String() || claims.Platform != string(platform) {
		return domain.ErrInvalidOAuthState
	}
	return nil
}

func (s *Service) CompleteOAuth(ctx context.Context, req domain.CompleteOAuthRequest) (*domain.Connection, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	if !req.Platform.Valid() {
		return nil, domain.ErrInvalidPlatform
	}
	if err := s.verifyState(req.State, accountID, req.Platform); err != nil {
		return nil, err
	}

	exchanged, err := s.exchanger.ExchangeCode(ctx, req.Code, s.cfg.Instagram.RedirectURL)
	if err != nil {
		s.log.Warn("oauth exchange failed",
			zap.Int64("account_id", int64(accountID)),
			zap.Error(err))
		return nil, domain.ErrExchangeFailed
	}

	now := s.clock.Now().UTC()
	conn := &domain.Connection{
		ID:                s.genID.Generate(),
		AccountID:         accountID,
		Platform:          req.Platform,
		ExternalAccountID: exchanged.ExternalAccountID,
		AccessToken:       exchanged.AccessToken,
		TokenExpiresAt:    exchanged.ExpiresAt,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// Wholesale replace: the old connection is deactivated and the new one
	// inserted in the same transaction, so the partial unique index on
	// (account_id, platform) WHERE active never sees two active rows.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`
			UPDATE platform_connections
			SET active = FALSE, updated_at = ?
			WHERE account_id = ? AND platform = ? AND active
		`, now, accountID, req.Platform).Error; err != nil {
			return err
		}
		return tx.Create(conn).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("platform connected",
		zap.Int64("account_id", int64(accountID)),
		zap.String("platform", string(req.Platform)))
	return conn, nil
}

func (s *Service) List(ctx context.Context) ([]*domain.Connection, error) {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrInvalidAccount
	}

	var conns []*domain.Connection
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND active", accountID).
		Order("id DESC").
		Find(&conns).Error
	return conns, err
}

func (s *Service) Disconnect(ctx context.Context, id snowflake.ID) error {
	accountID, ok := identity.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return domain.ErrInvalidAccount
	}

	tx := s.db.WithContext(ctx).Exec(`
		UPDATE platform_connections
		SET active = FALSE, updated_at = ?
		WHERE id = ? AND account_id = ? AND active
	`, s.clock.Now().UTC(), id, accountID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) ActiveForAccount(ctx context.Context, accountID snowflake.ID, platform domain.Platform) (*domain.Connection, error) {
	var conn domain.Connection
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND platform = ? AND active", accountID, platform).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoActiveConnection
	}
	if err != nil {
		return nil, err
	}
	if conn.TokenExpiresAt != nil && conn.TokenExpiresAt.Before(s.clock.Now().UTC()) {
		return nil, domain.ErrConnectionExpired
	}
	return &conn, nil
}

func (s *Service) ByExternalAccountID(ctx context.Context, platform domain.Platform, externalID string) (*domain.Connection, error) {
	var conn domain.Connection
	err := s.db.WithContext(ctx).
		Where("platform = ? AND external_account_id = ? AND active", platform, externalID).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoActiveConnection
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (s *Service) ExpireConnections(ctx context.Context, cutoff time.Time) ([]*domain.Connection, error) {
	var expired []*domain.Connection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
			SELECT * FROM platform_connections
			WHERE active AND token_expires_at IS NOT NULL AND token_expires_at < ?
		`, cutoff).Scan(&expired).Error; err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		return tx.Exec(`
			UPDATE platform_connections
			SET active = FALSE, updated_at = ?
			WHERE active AND token_expires_at IS NOT NULL AND token_expires_at < ?
		`, s.clock.Now().UTC(), cutoff).Error
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}
