package identity

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Identity is the authenticated caller, resolved once at the HTTP boundary
// and threaded through context. Handlers and services never re-derive it.
type Identity struct {
	AccountID snowflake.ID
}

type contextKey struct{}

// WithIdentity stores the authenticated identity in the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// WithAccountID is a convenience for tests and background jobs acting on
// behalf of a known account.
func WithAccountID(ctx context.Context, accountID snowflake.ID) context.Context {
	return WithIdentity(ctx, Identity{AccountID: accountID})
}

// FromContext returns the identity from context, if set.
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	value := ctx.Value(contextKey{})
	switch typed := value.(type) {
	case Identity:
		return typed, typed.AccountID != 0
	case snowflake.ID:
		return Identity{AccountID: typed}, typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return Identity{AccountID: parsed}, true
		}
	}
	return Identity{}, false
}

// AccountIDFromContext returns the authenticated account ID from context.
func AccountIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := FromContext(ctx)
	return id.AccountID, ok
}
