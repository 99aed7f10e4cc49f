package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/postloom/postloom/internal/account/domain"
)

func (s *Server) Signup(c *gin.Context) {
	var req accountdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Open a session right away so signup lands the user logged in.
	login, err := s.accounts.Login(c.Request.Context(), accountdomain.LoginRequest{
		Email:     req.Email,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.sessions.Set(c, login.RawToken, login.ExpiresAt)

	c.JSON(http.StatusCreated, gin.H{"account": account})
}

func (s *Server) Login(c *gin.Context) {
	var req accountdomain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.UserAgent = c.Request.UserAgent()
	req.IPAddress = c.ClientIP()

	login, err := s.accounts.Login(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Set(c, login.RawToken, login.ExpiresAt)
	c.JSON(http.StatusOK, gin.H{"account": login.Account})
}

func (s *Server) Logout(c *gin.Context) {
	if token, ok := s.sessions.ReadToken(c); ok {
		// Best effort; the cookie is cleared either way.
		_ = s.accounts.Logout(c.Request.Context(), token)
	}
	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	account, err := s.accounts.Get(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

type updateProfileRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

func (s *Server) UpdateProfile(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	account, err := s.accounts.UpdateProfile(c.Request.Context(), accountID, req.DisplayName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func (s *Server) DisableAccount(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	if err := s.accounts.Disable(c.Request.Context(), accountID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (s *Server) ChangePassword(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.accounts.ChangePassword(c.Request.Context(), accountID, req.CurrentPassword, req.NewPassword); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
