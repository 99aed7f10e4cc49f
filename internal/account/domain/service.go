package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

// LoginResult carries the raw session token exactly once; only its hash is
// persisted.
type LoginResult struct {
	Account   *Account
	RawToken  string
	SessionID snowflake.ID
	ExpiresAt time.Time
}

type Service interface {
	// Register creates a local account and grants the signup credits.
	Register(ctx context.Context, req RegisterRequest) (*Account, error)

	// Login verifies credentials and opens a session.
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)

	// Logout revokes the session behind the raw token.
	Logout(ctx context.Context, rawToken string) error

	// Authenticate resolves a raw session token to its account.
	Authenticate(ctx context.Context, rawToken string) (*Account, *Session, error)

	Get(ctx context.Context, id snowflake.ID) (*Account, error)
	UpdateProfile(ctx context.Context, id snowflake.ID, displayName string) (*Account, error)
	ChangePassword(ctx context.Context, id snowflake.ID, currentPassword, newPassword string) error

	// Disable soft-disables the account and revokes its sessions.
	Disable(ctx context.Context, id snowflake.ID) error
}
