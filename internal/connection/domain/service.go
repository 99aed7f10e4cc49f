package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ExchangedToken is the result of trading an OAuth code for platform
// credentials.
type ExchangedToken struct {
	AccessToken       string
	ExternalAccountID string
	ExpiresAt         *time.Time
}

// TokenExchanger trades an OAuth authorization code for an access token.
// Implemented by the platform clients.
type TokenExchanger interface {
	AuthorizeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*ExchangedToken, error)
}

type BeginOAuthResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

type CompleteOAuthRequest struct {
	Platform Platform `json:"platform" binding:"required"`
	State    string   `json:"state" binding:"required"`
	Code     string   `json:"code" binding:"required"`
}

type Service interface {
	// BeginOAuth returns the platform authorize URL with a signed state
	// bound to the calling account.
	BeginOAuth(ctx context.Context, platform Platform) (BeginOAuthResponse, error)

	// CompleteOAuth verifies the state, exchanges the code and replaces any
	// previous active connection for the platform.
	CompleteOAuth(ctx context.Context, req CompleteOAuthRequest) (*Connection, error)

	List(ctx context.Context) ([]*Connection, error)

	// Disconnect deactivates a connection; the row is kept.
	Disconnect(ctx context.Context, id snowflake.ID) error

	// ActiveForAccount returns the active connection for an account and
	// platform. Used by background publishers, so it takes the account
	// explicitly instead of reading it from context.
	ActiveForAccount(ctx context.Context, accountID snowflake.ID, platform Platform) (*Connection, error)

	// ByExternalAccountID resolves the active connection owning an external
	// profile id. Used by webhook dispatch.
	ByExternalAccountID(ctx context.Context, platform Platform, externalID string) (*Connection, error)

	// ExpireConnections deactivates connections whose tokens lapsed before
	// the cutoff and returns the affected connections.
	ExpireConnections(ctx context.Context, cutoff time.Time) ([]*Connection, error)
}

var (
	ErrNotFound          = errors.New("connection_not_found")
	ErrInvalidAccount    = errors.New("invalid_account")
	ErrInvalidPlatform   = errors.New("invalid_platform")
	ErrInvalidOAuthState = errors.New("invalid_oauth_state")
	ErrExchangeFailed    = errors.New("oauth_exchange_failed")
	ErrNoActiveConnection = errors.New("no_active_connection")
	ErrConnectionExpired  = errors.New("connection_expired")
)
