package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
)

func (s *Server) ListConnections(c *gin.Context) {
	connections, err := s.connectionSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": connections})
}

type beginOAuthRequest struct {
	Platform connectiondomain.Platform `json:"platform" binding:"required"`
}

func (s *Server) BeginOAuth(c *gin.Context) {
	var req beginOAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.connectionSvc.BeginOAuth(c.Request.Context(), req.Platform)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CompleteOAuth(c *gin.Context) {
	var req connectiondomain.CompleteOAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	conn, err := s.connectionSvc.CompleteOAuth(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

func (s *Server) Disconnect(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := s.connectionSvc.Disconnect(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
