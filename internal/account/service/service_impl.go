package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/account/domain"
	"github.com/postloom/postloom/internal/clock"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	sessionTokenBytes = 32
	sessionTTL        = 7 * 24 * time.Hour

	minPasswordLength = 8
)

type service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	credits     creditsdomain.Service
	node        *snowflake.Node
	clock       clock.Clock
}

type Params struct {
	fx.In

	Logger      *zap.Logger
	Repo        domain.Repository
	SessionRepo domain.SessionRepository
	Credits     creditsdomain.Service
	Node        *snowflake.Node
	Clock       clock.Clock
}

func New(p Params) domain.Service {
	return &service{
		log:         p.Logger.Named("account.service"),
		repo:        p.Repo,
		sessionRepo: p.SessionRepo,
		credits:     p.Credits,
		node:        p.Node,
		clock:       p.Clock,
	}
}

func (s *service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.Account, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrInvalidCredentials
	}

	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, domain.ErrAccountExists
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	hashed, err := hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}
	account := &domain.Account{
		ID:           s.node.Generate(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: &hashed,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAccountExists
		}
		return nil, err
	}

	// Signup credits are granted lazily too, but doing it here makes the
	// welcome balance visible on the first page load.
	if _, err := s.credits.GetOrCreateBalance(ctx, account.ID); err != nil {
		s.log.Warn("signup grant deferred", zap.Int64("account_id", int64(account.ID)), zap.Error(err))
	}

	s.log.Info("account registered", zap.Int64("account_id", int64(account.ID)))
	return account, nil
}

func (s *service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(req.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !account.Active {
		return nil, domain.ErrAccountInactive
	}
	if account.PasswordHash == nil || !verifyPassword(req.Password, *account.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	sess := &domain.Session{
		ID:        s.node.Generate(),
		AccountID: account.ID,
		TokenHash: hashToken(rawToken),
		UserAgent: strings.TrimSpace(req.UserAgent),
		IPAddress: strings.TrimSpace(req.IPAddress),
		ExpiresAt: now.Add(sessionTTL),
		CreatedAt: now,
	}
	if err := s.sessionRepo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		Account:   account,
		RawToken:  rawToken,
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *service) Logout(ctx context.Context, rawToken string) error {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return domain.ErrInvalidSession
	}

	sess, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.ErrInvalidSession
		}
		return err
	}

	return s.sessionRepo.RevokeSession(ctx, sess.ID, s.clock.Now().UTC())
}

func (s *service) Authenticate(ctx context.Context, rawToken string) (*domain.Account, *domain.Session, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return nil, nil, domain.ErrInvalidSession
	}

	sess, err := s.sessionRepo.GetSessionByTokenHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil, domain.ErrInvalidSession
		}
		return nil, nil, err
	}

	now := s.clock.Now().UTC()
	if sess.RevokedAt != nil {
		return nil, nil, domain.ErrSessionRevoked
	}
	if now.After(sess.ExpiresAt) {
		return nil, nil, domain.ErrSessionExpired
	}

	account, err := s.repo.FindByID(ctx, sess.AccountID)
	if err != nil {
		return nil, nil, err
	}
	if !account.Active {
		return nil, nil, domain.ErrAccountInactive
	}

	return account, sess, nil
}

func (s *service) Get(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) UpdateProfile(ctx context.Context, id snowflake.ID, displayName string) (*domain.Account, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil, domain.ErrInvalidCredentials
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpdateFields(ctx, id, map[string]any{
		"display_name": name,
		"updated_at":   now,
	}); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) Disable(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now().UTC()
	if err := s.repo.UpdateFields(ctx, id, map[string]any{
		"active":     false,
		"updated_at": now,
	}); err != nil {
		return err
	}
	// Sessions die with the account; a live token must not outlast it.
	return s.sessionRepo.RevokeAccountSessions(ctx, id, now)
}

func (s *service) ChangePassword(ctx context.Context, id snowflake.ID, currentPassword, newPassword string) error {
	if len(strings.TrimSpace(newPassword)) < minPasswordLength {
		return domain.ErrInvalidCredentials
	}

	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if account.PasswordHash == nil || !verifyPassword(currentPassword, *account.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	hashed, err := hashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.repo.UpdateFields(ctx, id, map[string]any{
		"password_hash": hashed,
		"updated_at":    s.clock.Now().UTC(),
	})
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory uint32
	var timeCost uint32
	var threads uint8
	{
		params := strings.Split(parts[3], ",")
		if len(params) != 3 {
			return false
		}

		m, ok := strings.CutPrefix(params[0], "m=")
		if !ok {
			return false
		}
		t, ok := strings.CutPrefix(params[1], "t=")
		if !ok {
			return false
		}
		p, ok := strings.CutPrefix(params[2], "p=")
		if !ok {
			return false
		}

		m64, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return false
		}
		t64, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return false
		}
		p64, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return false
		}

		memory = uint32(m64)
		timeCost = uint32(t64)
		threads = uint8(p64)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}
