package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/postloom/postloom/internal/identity"
)

// AuthRequired resolves the session cookie to an account and threads the
// identity through the request context. Everything downstream reads the
// caller from context, never from the cookie.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		account, _, err := s.accounts.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.sessions.Clear(c)
			AbortWithError(c, err)
			return
		}

		ctx := identity.WithIdentity(c.Request.Context(), identity.Identity{AccountID: account.ID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SweepAuthRequired gates the cron trigger endpoint behind the shared
// sweep secret, accepted as a bearer token or the X-Sweep-Secret header.
func (s *Server) SweepAuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.SweepSecret)
		if secret == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Sweep-Secret"))
		if provided == "" {
			authz := strings.TrimSpace(c.GetHeader("Authorization"))
			if rest, ok := strings.CutPrefix(authz, "Bearer "); ok {
				provided = strings.TrimSpace(rest)
			}
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// GenerationRateLimit throttles paid generation endpoints per account.
// A redis failure lets the request through rather than blocking paid
// work on the cache.
func (s *Server) GenerationRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		accountID, ok := identity.AccountIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.limiter.AllowGeneration(c.Request.Context(), accountID)
		if err != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Message: "too many generation requests, slow down",
			}})
			return
		}
		c.Next()
	}
}
