package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, account *Account) error
	FindByID(ctx context.Context, id snowflake.ID) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdateFields(ctx context.Context, id snowflake.ID, fields map[string]any) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	RevokeSession(ctx context.Context, id snowflake.ID, at time.Time) error
	RevokeAccountSessions(ctx context.Context, accountID snowflake.ID, at time.Time) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}
