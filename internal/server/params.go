package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/postloom/postloom/internal/identity"
)

func currentAccountID(c *gin.Context) (snowflake.ID, bool) {
	accountID, ok := identity.AccountIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return accountID, true
}

// parseIDParam reads a snowflake id from the route. An unparseable id can
// never name a real row, so it reads as not found rather than a 400.
func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return 0, false
	}
	return id, true
}
