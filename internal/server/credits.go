package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/postloom/postloom/pkg/db/pagination"
)

func (s *Server) GetBalance(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	balance, err := s.creditsSvc.GetOrCreateBalance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) ListCreditHistory(c *gin.Context) {
	accountID, ok := currentAccountID(c)
	if !ok {
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	history, err := s.creditsSvc.History(c.Request.Context(), accountID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Server) ListCreditPacks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"packs": s.purchaseSvc.ListPacks()})
}

type checkoutRequest struct {
	Pack string `json:"pack" binding:"required"`
}

func (s *Server) CreateCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	checkout, err := s.purchaseSvc.CreateCheckout(c.Request.Context(), req.Pack)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, checkout)
}
